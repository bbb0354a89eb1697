package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stableport/bridge-orchestrator/internal/addrcodec"
	"github.com/stableport/bridge-orchestrator/internal/cctp"
	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
	"github.com/stableport/bridge-orchestrator/internal/eth"
)

type fakeEnsurer struct {
	hash  *common.Hash
	err   error
	calls int
}

func (e *fakeEnsurer) EnsureAllowance(_ context.Context, _ uint64) (*common.Hash, error) {
	e.calls++
	return e.hash, e.err
}

type fakeDepositSender struct {
	mu sync.Mutex

	estimateCalls int
	sendCalls     int
	waitCalls     int

	lastReq eth.TxRequest
	sendErr error

	receiptStatus uint64
	receiptLogs   []*types.Log
}

func (s *fakeDepositSender) From() common.Address { return common.HexToAddress("0xa1") }

func (s *fakeDepositSender) EstimateGas(_ context.Context, _ eth.TxRequest) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimateCalls++
	return 120_000
}

func (s *fakeDepositSender) Send(_ context.Context, req eth.TxRequest) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	s.lastReq = req
	return crypto.Keccak256Hash(req.Data), nil
}

func (s *fakeDepositSender) WaitMined(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitCalls++
	return &types.Receipt{
		TxHash: txHash,
		Status: s.receiptStatus,
		Logs:   s.receiptLogs,
	}, nil
}

func (s *fakeDepositSender) networkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimateCalls + s.sendCalls + s.waitCalls
}

type capturedEvent struct {
	topic   string
	payload []byte
}

type fakeProducer struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *fakeProducer) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchiver) Put(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

// messageSentData encodes a single dynamic bytes argument in event-data
// layout: offset word, length word, right-padded payload.
func messageSentData(msg []byte) []byte {
	data := make([]byte, 64, 64+len(msg)+32)
	data[31] = 0x20
	data[63] = byte(len(msg))
	data = append(data, msg...)
	if pad := len(msg) % 32; pad != 0 {
		data = append(data, make([]byte, 32-pad)...)
	}
	return data
}

func productionRecipient() string {
	var digest [20]byte
	for i := range digest {
		digest[i] = byte(i + 1)
	}
	return addrcodec.Format(addrcodec.VersionProduction, digest)
}

func testRecipient() string {
	var digest [20]byte
	digest[0] = 0x42
	return addrcodec.Format(addrcodec.VersionTest, digest)
}

func newTestOrchestrator(t *testing.T, sender *fakeDepositSender) (*Orchestrator, *fakeEnsurer, *MemoryStore, *fakeProducer, *fakeArchiver) {
	t.Helper()
	chain, err := chaincfg.ByChainID(8453)
	if err != nil {
		t.Fatalf("ByChainID: %v", err)
	}
	approval := common.Hash{0xA9}
	ensurer := &fakeEnsurer{hash: &approval}
	store := NewMemoryStore()
	producer := &fakeProducer{}
	archiver := &fakeArchiver{}

	o, err := NewOrchestrator(OrchestratorConfig{Chain: chain}, ensurer, sender, store, producer, archiver)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o, ensurer, store, producer, archiver
}

func validRequest() Request {
	return Request{
		Amount:      25_000_000,
		Recipient:   productionRecipient(),
		ChainID:     8453,
		SlippageBps: 50,
	}
}

func TestBridge_HappyPath(t *testing.T) {
	msg := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	sender := &fakeDepositSender{
		receiptStatus: types.ReceiptStatusSuccessful,
		receiptLogs: []*types.Log{{
			Topics: []common.Hash{cctp.MessageSentTopic},
			Data:   messageSentData(msg),
		}},
	}
	o, ensurer, store, producer, archiver := newTestOrchestrator(t, sender)

	tx, err := o.Bridge(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}

	if tx.Status != StatusPending {
		t.Fatalf("status: got %s want pending", tx.Status)
	}
	if want := crypto.Keccak256Hash(msg); tx.MessageHash != want {
		t.Fatalf("message hash: got %s want %s", tx.MessageHash, want)
	}
	if tx.ApprovalTxHash == nil || *tx.ApprovalTxHash != (common.Hash{0xA9}) {
		t.Fatalf("approval hash not carried: %v", tx.ApprovalTxHash)
	}
	if tx.MinAmountOut != 24_875_000 {
		t.Fatalf("min amount out: got %d want 24875000", tx.MinAmountOut)
	}
	if ensurer.calls != 1 {
		t.Fatalf("allowance calls: got %d want 1", ensurer.calls)
	}

	// The deposit targets the token messenger with the buffered estimate.
	chain, _ := chaincfg.ByChainID(8453)
	if sender.lastReq.To != chain.TokenMessenger {
		t.Fatalf("deposit target: got %s want %s", sender.lastReq.To, chain.TokenMessenger)
	}
	if sender.lastReq.GasLimit != 120_000 {
		t.Fatalf("gas limit: got %d want 120000", sender.lastReq.GasLimit)
	}

	stored, err := store.GetByMessageHash(context.Background(), tx.MessageHash)
	if err != nil {
		t.Fatalf("GetByMessageHash: %v", err)
	}
	if stored.TxHash != tx.TxHash || stored.Status != StatusPending {
		t.Fatalf("stored record: %+v", stored)
	}

	if len(producer.events) != 1 || producer.events[0].topic != TopicTransferPending {
		t.Fatalf("events: %+v", producer.events)
	}
	_, evHash, err := DecodePendingEvent(producer.events[0].payload)
	if err != nil {
		t.Fatalf("DecodePendingEvent: %v", err)
	}
	if evHash != tx.MessageHash {
		t.Fatalf("event message hash: got %s want %s", evHash, tx.MessageHash)
	}

	wantKey := "receipts/" + tx.MessageHash.Hex() + ".json"
	if len(archiver.keys) != 1 || archiver.keys[0] != wantKey {
		t.Fatalf("archive keys: %v, want [%s]", archiver.keys, wantKey)
	}
}

func TestBridge_ValidationFailuresMakeNoNetworkCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{name: "zero amount", mutate: func(r *Request) { r.Amount = 0 }},
		{name: "below minimum", mutate: func(r *Request) { r.Amount = chaincfg.MinDepositAmount - 1 }},
		{name: "unsupported chain", mutate: func(r *Request) { r.ChainID = 999 }},
		{name: "mismatched chain", mutate: func(r *Request) { r.ChainID = 1 }},
		{name: "malformed recipient", mutate: func(r *Request) { r.Recipient = "not-an-address" }},
		{name: "wrong network recipient", mutate: func(r *Request) { r.Recipient = testRecipient() }},
		{name: "slippage too low", mutate: func(r *Request) { r.SlippageBps = 9 }},
		{name: "slippage too high", mutate: func(r *Request) { r.SlippageBps = 101 }},
		{name: "min out above amount", mutate: func(r *Request) { r.MinAmountOut = r.Amount + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeDepositSender{receiptStatus: types.ReceiptStatusSuccessful}
			o, ensurer, _, _, _ := newTestOrchestrator(t, sender)

			req := validRequest()
			tt.mutate(&req)

			_, err := o.Bridge(context.Background(), req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("got %v, want ErrInvalidRequest", err)
			}
			if ensurer.calls != 0 || sender.networkCalls() != 0 {
				t.Fatalf("validation failure touched the network: allowance=%d chain=%d",
					ensurer.calls, sender.networkCalls())
			}
		})
	}
}

func TestBridge_NetworkMismatchDistinctFromMalformed(t *testing.T) {
	sender := &fakeDepositSender{}
	o, _, _, _, _ := newTestOrchestrator(t, sender)

	req := validRequest()
	req.Recipient = testRecipient()
	_, err := o.Bridge(context.Background(), req)
	if !errors.Is(err, addrcodec.ErrWrongNetwork) {
		t.Fatalf("wrong-network recipient: got %v, want ErrWrongNetwork in chain", err)
	}
	if errors.Is(err, addrcodec.ErrInvalidAddress) {
		t.Fatalf("wrong-network recipient misreported as malformed: %v", err)
	}

	req.Recipient = "0OIl"
	_, err = o.Bridge(context.Background(), req)
	if !errors.Is(err, addrcodec.ErrInvalidAddress) {
		t.Fatalf("malformed recipient: got %v, want ErrInvalidAddress in chain", err)
	}
}

func TestBridge_ExplicitMinAmountOutOverridesSlippage(t *testing.T) {
	msg := []byte{0xAA}
	sender := &fakeDepositSender{
		receiptStatus: types.ReceiptStatusSuccessful,
		receiptLogs: []*types.Log{{
			Topics: []common.Hash{cctp.MessageSentTopic},
			Data:   messageSentData(msg),
		}},
	}
	o, _, _, _, _ := newTestOrchestrator(t, sender)

	req := validRequest()
	req.MinAmountOut = 24_000_000
	req.SlippageBps = 0

	tx, err := o.Bridge(context.Background(), req)
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if tx.MinAmountOut != 24_000_000 {
		t.Fatalf("min amount out: got %d want explicit 24000000", tx.MinAmountOut)
	}
}

func TestBridge_RevertMarksRecordFailed(t *testing.T) {
	sender := &fakeDepositSender{receiptStatus: types.ReceiptStatusFailed}
	o, _, store, producer, _ := newTestOrchestrator(t, sender)

	_, err := o.Bridge(context.Background(), validRequest())
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("got %v, want ErrTransactionFailed", err)
	}

	pending, _ := store.ListByStatus(context.Background(), StatusPending, 10)
	failed, _ := store.ListByStatus(context.Background(), StatusFailed, 10)
	if len(pending) != 0 || len(failed) != 1 {
		t.Fatalf("store after revert: pending=%d failed=%d", len(pending), len(failed))
	}
	if len(producer.events) != 0 {
		t.Fatalf("revert must not publish events, got %d", len(producer.events))
	}
}

func TestBridge_MissingMessageEventIsDataIntegrityFailure(t *testing.T) {
	// Confirmed receipt, but no MessageSent log.
	sender := &fakeDepositSender{receiptStatus: types.ReceiptStatusSuccessful}
	o, _, store, _, _ := newTestOrchestrator(t, sender)

	_, err := o.Bridge(context.Background(), validRequest())
	if !errors.Is(err, cctp.ErrNoMessageEvent) {
		t.Fatalf("got %v, want ErrNoMessageEvent", err)
	}

	failed, _ := store.ListByStatus(context.Background(), StatusFailed, 10)
	if len(failed) != 1 {
		t.Fatalf("expected the record marked failed, got %d", len(failed))
	}
	if !strings.Contains(failed[0].LastError, "MessageSent") {
		t.Fatalf("failure reason: %q", failed[0].LastError)
	}
}

func TestBridge_BroadcastErrorLeavesNoRecord(t *testing.T) {
	sender := &fakeDepositSender{sendErr: errors.New("nonce too low")}
	o, _, store, _, _ := newTestOrchestrator(t, sender)

	_, err := o.Bridge(context.Background(), validRequest())
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("got %v, want ErrTransactionFailed", err)
	}
	pending, _ := store.ListByStatus(context.Background(), StatusPending, 10)
	if len(pending) != 0 {
		t.Fatalf("broadcast failure must not persist a record, got %d", len(pending))
	}
}
