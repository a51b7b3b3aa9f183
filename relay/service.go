package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"chainrelay/chain"
	"chainrelay/models"
	"chainrelay/storage"
	"chainrelay/wallet"
)

// UserStore is the durable userId -> wallet address directory.
type UserStore interface {
	Create(ctx context.Context, userID, walletAddress string) error
	Get(ctx context.Context, userID string) (*models.User, error)
}

// TransactionStore is the durable keyed store for transaction records.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Get(ctx context.Context, hash string) (*models.Transaction, error)
	MarkStatus(ctx context.Context, hash string, next models.TxStatus) error
}

// ChainClient submits transfers from the relayer account and answers receipt
// inquiries with a three-way outcome.
type ChainClient interface {
	SubmitTransfer(ctx context.Context, to common.Address, amountWei *big.Int) (common.Hash, error)
	ReceiptStatus(ctx context.Context, hash common.Hash) chain.Status
	RelayerAddress() common.Address
}

// KeyVault retains the private keys generated for registered users.
type KeyVault interface {
	Save(userID string, key *wallet.PrivateKey) error
}

// Config carries the dependencies of the lifecycle manager.
type Config struct {
	Users        UserStore
	Transactions TransactionStore
	Chain        ChainClient
	Vault        KeyVault
	// MaxAmount is the per-transaction cap as a decimal string, e.g. "0.1".
	MaxAmount string
	Logger    *slog.Logger
}

// Service validates relay requests, drives the chain client, and owns the
// transaction record state machine. All state lives in the injected stores, so
// a single Service value handles concurrent requests.
type Service struct {
	users        UserStore
	transactions TransactionStore
	chain        ChainClient
	vault        KeyVault
	maxAmount    string
	maxWei       *big.Int
	logger       *slog.Logger
}

// New builds the lifecycle manager. The configured maximum amount must parse
// as a positive decimal; this is a startup precondition, not request handling.
func New(cfg Config) (*Service, error) {
	if cfg.Users == nil || cfg.Transactions == nil {
		return nil, fmt.Errorf("relay: stores required")
	}
	if cfg.Chain == nil {
		return nil, fmt.Errorf("relay: chain client required")
	}
	maxWei, err := chain.ParseAmount(cfg.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("relay: invalid max transaction amount %q: %w", cfg.MaxAmount, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:        cfg.Users,
		transactions: cfg.Transactions,
		chain:        cfg.Chain,
		vault:        cfg.Vault,
		maxAmount:    cfg.MaxAmount,
		maxWei:       maxWei,
		logger:       logger,
	}, nil
}

// RelayerAddress exposes the sending identity for the diagnostics endpoint.
func (s *Service) RelayerAddress() common.Address {
	return s.chain.RelayerAddress()
}

// RegisterUser creates a wallet identity for the external identifier and
// returns its address. Duplicate registration fails with ErrUserExists.
func (s *Service) RegisterUser(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("relay: empty user id")
	}
	if _, err := s.users.Get(ctx, userID); err == nil {
		return "", ErrUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	key, err := wallet.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("relay: generate wallet key: %w", err)
	}
	address := key.Address().Hex()

	// The unique user row decides registration races; the key is written only
	// for the winner so a losing attempt can never clobber the stored key for
	// the address already handed out.
	if err := s.users.Create(ctx, userID, address); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return "", ErrUserExists
		}
		return "", err
	}
	if s.vault != nil {
		if err := s.vault.Save(userID, key); err != nil {
			s.logger.Error("custodial key not retained for registered wallet",
				"user_id", userID, "wallet", address, "error", err)
			return "", fmt.Errorf("relay: store wallet key: %w", err)
		}
	}

	s.logger.Info("user registered", "user_id", userID, "wallet", address)
	return address, nil
}

// ExecuteTransfer validates the request, submits the transfer through the
// relayer account, and records it as pending. Exactly one chain submission is
// made per call, and only after every precondition passes.
func (s *Service) ExecuteTransfer(ctx context.Context, userID, to, amount string) (string, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if !wallet.ValidAddress(to) {
		return "", ErrInvalidAddress
	}
	amountWei, err := chain.ParseAmount(amount)
	if err != nil {
		return "", ErrInvalidAmount
	}
	if amountWei.Cmp(s.maxWei) > 0 {
		return "", &LimitError{Limit: s.maxAmount}
	}

	s.logger.Info("executing transfer", "user_id", userID, "to", to, "amount", amount)

	hash, err := s.chain.SubmitTransfer(ctx, common.HexToAddress(to), amountWei)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}

	record := &models.Transaction{
		Hash:   hash.Hex(),
		UserID: userID,
		To:     to,
		Amount: amount,
		Status: models.StatusPending,
	}
	if err := s.transactions.Create(ctx, record); err != nil {
		// The transfer is on-chain with no local record. Never resubmit;
		// surface the gap for operator follow-up.
		s.logger.Error("reconciliation gap: submitted transfer has no local record",
			"hash", record.Hash, "user_id", userID, "error", err)
		return "", &PersistError{Hash: record.Hash, Err: err}
	}

	s.logger.Info("transaction created", "hash", record.Hash)
	return record.Hash, nil
}

// TransactionStatus returns the lifecycle status for a hash, reconciling a
// stored pending status against the chain exactly once per inquiry. Terminal
// statuses are answered from the store without a chain call.
func (s *Service) TransactionStatus(ctx context.Context, hash string) (models.TxStatus, error) {
	record, err := s.transactions.Get(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrTxNotFound
		}
		return "", err
	}
	if record.Status.Terminal() {
		return record.Status, nil
	}

	switch s.chain.ReceiptStatus(ctx, common.HexToHash(hash)) {
	case chain.StatusConfirmed:
		return s.settle(ctx, hash, models.StatusConfirmed)
	case chain.StatusFailed:
		return s.settle(ctx, hash, models.StatusFailed)
	default:
		return models.StatusPending, nil
	}
}

// settle applies the guarded pending -> terminal transition. Racing inquiries
// converge on the same terminal value, so a zero-row update is not a failure.
func (s *Service) settle(ctx context.Context, hash string, next models.TxStatus) (models.TxStatus, error) {
	if err := s.transactions.MarkStatus(ctx, hash, next); err != nil {
		return "", &PersistError{Hash: hash, Err: err}
	}
	s.logger.Info("transaction settled", "hash", hash, "status", string(next))
	return next, nil
}
