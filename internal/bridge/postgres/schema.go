package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bridge_transfers (
	tx_hash BYTEA PRIMARY KEY,
	chain_id BIGINT NOT NULL,
	amount BIGINT NOT NULL,
	recipient TEXT NOT NULL,
	min_amount_out BIGINT NOT NULL,
	network SMALLINT NOT NULL,

	approval_tx_hash BYTEA,
	message_hash BYTEA UNIQUE,

	status SMALLINT NOT NULL,
	attestation BYTEA,
	last_error TEXT,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT tx_hash_len CHECK (octet_length(tx_hash) = 32),
	CONSTRAINT approval_tx_hash_len CHECK (approval_tx_hash IS NULL OR octet_length(approval_tx_hash) = 32),
	CONSTRAINT message_hash_len CHECK (message_hash IS NULL OR octet_length(message_hash) = 32),
	CONSTRAINT amount_positive CHECK (amount > 0),
	CONSTRAINT min_amount_out_nonneg CHECK (min_amount_out >= 0),
	CONSTRAINT chain_id_positive CHECK (chain_id > 0),
	CONSTRAINT status_range CHECK (status >= 1 AND status <= 3)
);

CREATE INDEX IF NOT EXISTS bridge_transfers_status_idx ON bridge_transfers (status);
`
