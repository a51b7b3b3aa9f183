package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"chainrelay/models"
)

var (
	// ErrNotFound is returned when a user or transaction does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrUserExists is returned on duplicate user registration.
	ErrUserExists = errors.New("storage: user already exists")
)

// Users provides durable userId -> wallet address mappings.
type Users struct {
	db *gorm.DB
}

// NewUsers wraps the database handle for user lookups.
func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// Create registers a user with its wallet address. Registration happens once;
// a second attempt for the same userId fails with ErrUserExists.
func (s *Users) Create(ctx context.Context, userID, walletAddress string) error {
	user := models.User{UserID: userID, WalletAddress: walletAddress}
	err := s.db.WithContext(ctx).Create(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// Get resolves a user by its external identifier.
func (s *Users) Get(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get user: %w", err)
	}
	return &user, nil
}

// Transactions provides durable transaction records keyed by chain hash.
type Transactions struct {
	db *gorm.DB
}

// NewTransactions wraps the database handle for transaction records.
func NewTransactions(db *gorm.DB) *Transactions {
	return &Transactions{db: db}
}

// Create persists a freshly submitted transfer. The caller supplies the
// chain-assigned hash, so creation always happens after submission succeeds.
func (s *Transactions) Create(ctx context.Context, tx *models.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("storage: create transaction: %w", err)
	}
	return nil
}

// Get fetches a transaction record by hash.
func (s *Transactions) Get(ctx context.Context, hash string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get transaction: %w", err)
	}
	return &tx, nil
}

// MarkStatus transitions a record to the given terminal status with a guarded
// update: the write applies only while the stored status is still pending, so
// racing inquiries can never regress a terminal state. A no-op match count is
// not an error; it means another writer already converged the record.
func (s *Transactions) MarkStatus(ctx context.Context, hash string, next models.TxStatus) error {
	if !next.Terminal() {
		return fmt.Errorf("storage: refusing non-terminal status %q", next)
	}
	result := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("hash = ? AND status = ?", hash, models.StatusPending).
		Update("status", next)
	if result.Error != nil {
		return fmt.Errorf("storage: mark status: %w", result.Error)
	}
	return nil
}

// ListWindow returns transactions created inside [start, end), oldest first.
// Used by the operational export, never by the request path.
func (s *Transactions) ListWindow(ctx context.Context, start, end time.Time) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at asc").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list transactions: %w", err)
	}
	return txs, nil
}

// isUniqueViolation catches drivers that do not translate duplicate-key
// failures into gorm.ErrDuplicatedKey (the sqlite test driver among them).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
