// Package addrcodec encodes destination-chain recipient identities into the
// 32-byte wire recipient the token messenger contract expects.
//
// Recipient identities are base58check strings over a 21-byte payload: one
// version byte followed by the identity's 20-byte hash160 digest. The version
// byte discriminates production identities from test identities.
package addrcodec

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/ripemd160"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

var (
	ErrInvalidAddress = errors.New("addrcodec: invalid address")
	ErrWrongNetwork   = errors.New("addrcodec: wrong network")
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Address version bytes. Production identities render with a leading "1";
// test identities render with a leading "m" or "n".
const (
	VersionProduction byte = 0x00
	VersionTest       byte = 0x6F
)

const (
	payloadLen = 21 // version byte + 20-byte digest
	rawLen     = payloadLen + 4

	// recipientVersionIndex and recipientDigestOffset fix the bytes32 wire
	// layout: byte 11 carries the version, bytes 12..31 the digest, all
	// other bytes zero. This layout is a protocol contract.
	recipientVersionIndex = 11
	recipientDigestOffset = 12
)

// Decode parses a base58check recipient identity and returns its version
// byte and 20-byte digest.
func Decode(addr string) (version byte, digest [20]byte, err error) {
	raw, err := base58Decode(addr)
	if err != nil {
		return 0, digest, err
	}
	if len(raw) != rawLen {
		return 0, digest, fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidAddress, len(raw), rawLen)
	}
	payload, checksum := raw[:payloadLen], raw[payloadLen:]
	if !bytes.Equal(checksum, doubleSHA256(payload)[:4]) {
		return 0, digest, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	version = payload[0]
	if version != VersionProduction && version != VersionTest {
		return 0, digest, fmt.Errorf("%w: unknown version byte 0x%02x", ErrInvalidAddress, version)
	}
	copy(digest[:], payload[1:])
	return version, digest, nil
}

// Format renders a version byte and digest as a base58check identity.
// It is the exact inverse of Decode.
func Format(version byte, digest [20]byte) string {
	payload := make([]byte, 0, payloadLen)
	payload = append(payload, version)
	payload = append(payload, digest[:]...)
	return base58CheckEncode(payload)
}

// FromPublicKeyHash derives the identity for a hash160 digest of a
// serialized public key (sha256 then ripemd160).
func FromPublicKeyHash(version byte, pubKey []byte) string {
	sha := sha256.Sum256(pubKey)
	ripe := ripemd160.New()
	_, _ = ripe.Write(sha[:])
	var digest [20]byte
	copy(digest[:], ripe.Sum(nil))
	return Format(version, digest)
}

// EncodeRecipient converts a recipient identity into the bytes32 form the
// token messenger expects.
func EncodeRecipient(addr string) ([32]byte, error) {
	var out [32]byte
	version, digest, err := Decode(addr)
	if err != nil {
		return out, err
	}
	out[recipientVersionIndex] = version
	copy(out[recipientDigestOffset:], digest[:])
	return out, nil
}

// DecodeRecipient recovers the identity string from its bytes32 wire form.
// Padding bytes must be zero and the version byte must be known.
func DecodeRecipient(encoded [32]byte) (string, error) {
	for i := 0; i < recipientVersionIndex; i++ {
		if encoded[i] != 0 {
			return "", fmt.Errorf("%w: non-zero padding at byte %d", ErrInvalidAddress, i)
		}
	}
	version := encoded[recipientVersionIndex]
	if version != VersionProduction && version != VersionTest {
		return "", fmt.Errorf("%w: unknown version byte 0x%02x", ErrInvalidAddress, version)
	}
	var digest [20]byte
	copy(digest[:], encoded[recipientDigestOffset:])
	return Format(version, digest), nil
}

// DetectNetwork classifies an identity by prefix alone. It does not validate
// structure; callers that need validity use Decode or ValidateForNetwork.
func DetectNetwork(addr string) chaincfg.Network {
	if addr == "" {
		return chaincfg.NetworkNone
	}
	switch addr[0] {
	case '1':
		return chaincfg.NetworkProduction
	case 'm', 'n':
		return chaincfg.NetworkTest
	default:
		return chaincfg.NetworkNone
	}
}

// ValidateForNetwork checks that an identity is well formed and belongs to
// the expected network. Malformed identities fail with ErrInvalidAddress;
// structurally valid identities on the other network fail with
// ErrWrongNetwork, so callers can tell the two apart.
func ValidateForNetwork(addr string, want chaincfg.Network) error {
	version, _, err := Decode(addr)
	if err != nil {
		return err
	}
	got := chaincfg.NetworkTest
	if version == VersionProduction {
		got = chaincfg.NetworkProduction
	}
	if got != want {
		return fmt.Errorf("%w: recipient is a %s address but the source chain is %s", ErrWrongNetwork, got, want)
	}
	return nil
}

func base58CheckEncode(payload []byte) string {
	raw := make([]byte, 0, len(payload)+4)
	raw = append(raw, payload...)
	raw = append(raw, doubleSHA256(payload)[:4]...)
	return base58Encode(raw)
}

func base58Encode(input []byte) string {
	if len(input) == 0 {
		return ""
	}

	x := new(big.Int).SetBytes(input)
	base := big.NewInt(58)
	zero := big.NewInt(0)
	mod := new(big.Int)

	out := make([]byte, 0, len(input)*2)
	for x.Cmp(zero) > 0 {
		x.QuoRem(x, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}

	for i := 0; i < len(input) && input[i] == 0; i++ {
		out = append(out, base58Alphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	if strings.TrimSpace(s) != s || s == "" {
		return nil, fmt.Errorf("%w: empty or padded string", ErrInvalidAddress)
	}

	x := new(big.Int)
	base := big.NewInt(58)
	for _, r := range s {
		idx := strings.IndexRune(base58Alphabet, r)
		if idx < 0 {
			return nil, fmt.Errorf("%w: invalid base58 character %q", ErrInvalidAddress, r)
		}
		x.Mul(x, base)
		x.Add(x, big.NewInt(int64(idx)))
	}

	decoded := x.Bytes()

	// Leading '1' characters encode leading zero bytes.
	leading := 0
	for leading < len(s) && s[leading] == base58Alphabet[0] {
		leading++
	}

	out := make([]byte, leading+len(decoded))
	copy(out[leading:], decoded)
	return out, nil
}

func doubleSHA256(input []byte) []byte {
	first := sha256.Sum256(input)
	second := sha256.Sum256(first[:])
	return second[:]
}
