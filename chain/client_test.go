package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainrelay/wallet"
)

type stubBackend struct {
	nonce      uint64
	gasPrice   *big.Int
	sent       []*types.Transaction
	sendErr    error
	receipt    *types.Receipt
	receiptErr error
}

func (b *stubBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(137), nil
}

func (b *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if b.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return b.gasPrice, nil
}

func (b *stubBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *stubBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return b.receipt, b.receiptErr
}

func newTestClient(t *testing.T, backend *stubBackend) *Client {
	t.Helper()
	key, err := wallet.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := NewClient(context.Background(), backend, key, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitTransferSignsAndSends(t *testing.T) {
	backend := &stubBackend{nonce: 7}
	client := newTestClient(t, backend)

	to := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	amount := big.NewInt(1_000_000)

	hash, err := client.SubmitTransfer(context.Background(), to, amount)
	if err != nil {
		t.Fatalf("submit transfer: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected 1 submitted tx, got %d", len(backend.sent))
	}
	sent := backend.sent[0]
	if sent.Hash() != hash {
		t.Fatalf("returned hash %s does not match submitted tx %s", hash, sent.Hash())
	}
	if sent.Nonce() != 7 {
		t.Fatalf("nonce = %d, want 7", sent.Nonce())
	}
	if sent.To() == nil || *sent.To() != to {
		t.Fatalf("destination mismatch")
	}
	if sent.Value().Cmp(amount) != 0 {
		t.Fatalf("value = %s, want %s", sent.Value(), amount)
	}
}

func TestSubmitTransferPropagatesSendError(t *testing.T) {
	backend := &stubBackend{sendErr: errors.New("nonce too low")}
	client := newTestClient(t, backend)

	_, err := client.SubmitTransfer(context.Background(), common.Address{1}, big.NewInt(1))
	if err == nil {
		t.Fatal("expected error from failed submission")
	}
}

func TestSubmitTransferRejectsNonPositiveAmount(t *testing.T) {
	backend := &stubBackend{}
	client := newTestClient(t, backend)

	if _, err := client.SubmitTransfer(context.Background(), common.Address{1}, big.NewInt(0)); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if len(backend.sent) != 0 {
		t.Fatalf("expected no submission, got %d", len(backend.sent))
	}
}

// poolBackend derives the pending nonce from what it has accepted, the way a
// node's pending pool does. A nonce race between submitters shows up here as
// two transactions carrying the same nonce.
type poolBackend struct {
	stubBackend
	mu sync.Mutex
}

func (b *poolBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *poolBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func TestConcurrentSubmitsUseDistinctNonces(t *testing.T) {
	backend := &poolBackend{}
	key, err := wallet.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := NewClient(context.Background(), backend, key, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	const submitters = 8
	var wg sync.WaitGroup
	errs := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.SubmitTransfer(context.Background(), common.Address{1}, big.NewInt(1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit transfer: %v", err)
		}
	}

	if len(backend.sent) != submitters {
		t.Fatalf("submitted txs = %d, want %d", len(backend.sent), submitters)
	}
	seen := make(map[uint64]bool, submitters)
	for _, tx := range backend.sent {
		if seen[tx.Nonce()] {
			t.Fatalf("nonce %d used twice", tx.Nonce())
		}
		seen[tx.Nonce()] = true
	}
}

func TestReceiptStatusOutcomes(t *testing.T) {
	hash := common.HexToHash("0xdeadbeef")
	cases := []struct {
		name    string
		receipt *types.Receipt
		err     error
		want    Status
	}{
		{"confirmed", &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil, StatusConfirmed},
		{"failed", &types.Receipt{Status: types.ReceiptStatusFailed}, nil, StatusFailed},
		{"not mined yet", nil, ethereum.NotFound, StatusPending},
		{"query error collapses to pending", nil, errors.New("connection refused"), StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &stubBackend{receipt: tc.receipt, receiptErr: tc.err}
			client := newTestClient(t, backend)
			if got := client.ReceiptStatus(context.Background(), hash); got != tc.want {
				t.Fatalf("ReceiptStatus = %q, want %q", got, tc.want)
			}
		})
	}
}
