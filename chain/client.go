package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainrelay/wallet"
)

// Status is the three-way outcome of a receipt lookup. A missing receipt and a
// failed query both collapse to StatusPending; the chain is not yet
// authoritative in either case, so the caller must not treat them as errors.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

const transferGasLimit = 21000

// Backend is the subset of the Ethereum RPC used by the relayer client.
// *ethclient.Client satisfies it; tests substitute a stub.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Client submits value transfers from the single relayer identity and answers
// receipt inquiries. It is safe for concurrent use: submissions are serialised
// so every transfer sees the node's pending nonce after the previous send.
type Client struct {
	backend Backend
	key     *wallet.PrivateKey
	signer  types.Signer
	relayer common.Address
	logger  *slog.Logger

	// submitMu orders nonce acquisition against sends. All transfers spend
	// from the one relayer account, so concurrent PendingNonceAt calls would
	// hand two transfers the same nonce and the node would drop one.
	submitMu sync.Mutex
}

// NewClient builds a relayer client bound to the given backend and key. The
// chain ID is fetched once so every transfer signs with the right EIP-155 domain.
func NewClient(ctx context.Context, backend Backend, key *wallet.PrivateKey, logger *slog.Logger) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain: backend required")
	}
	if key == nil {
		return nil, fmt.Errorf("chain: relayer key required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch chain id: %w", err)
	}
	c := &Client{
		backend: backend,
		key:     key,
		signer:  types.LatestSignerForChainID(chainID),
		relayer: key.Address(),
		logger:  logger,
	}
	logger.Info("relayer client initialised", "relayer", c.relayer.Hex(), "chain_id", chainID.String())
	return c, nil
}

// RelayerAddress returns the sending identity for diagnostics.
func (c *Client) RelayerAddress() common.Address {
	return c.relayer
}

// SubmitTransfer sends amountWei to the destination from the relayer account
// and returns the transaction hash. At most one submission attempt is made.
func (c *Client) SubmitTransfer(ctx context.Context, to common.Address, amountWei *big.Int) (common.Hash, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("chain: transfer amount must be positive")
	}
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.relayer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: fetch nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amountWei,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, c.signer, c.key.PrivateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign transfer: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send transfer: %w", err)
	}
	hash := signed.Hash()
	c.logger.Info("transfer submitted", "hash", hash.Hex(), "to", to.Hex())
	return hash, nil
}

// ReceiptStatus reports the lifecycle outcome for a submitted transfer. There
// is deliberately no error return: a receipt that does not exist yet, and a
// query that fails, both mean the chain has nothing authoritative to say.
func (c *Client) ReceiptStatus(ctx context.Context, hash common.Hash) Status {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt query failed", "hash", hash.Hex(), "error", err)
		}
		return StatusPending
	}
	if receipt == nil {
		return StatusPending
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return StatusConfirmed
	}
	return StatusFailed
}
