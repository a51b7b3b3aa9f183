package models

import (
	"time"

	"gorm.io/gorm"
)

// TxStatus tracks a relayed transfer through its on-chain lifecycle.
type TxStatus string

// Lifecycle states. Pending is the only non-terminal state; a transaction
// never leaves Confirmed or Failed once it arrives there.
const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s TxStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid reports whether the status is one of the known lifecycle states.
func (s TxStatus) Valid() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusFailed
}

// User maps an externally supplied identifier to its managed wallet address.
// The wallet address is assigned at registration and never changes.
type User struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        string `gorm:"uniqueIndex;size:128;not null"`
	WalletAddress string `gorm:"size:42;not null"`
	CreatedAt     time.Time
}

// Transaction records one relayed value transfer. The chain-assigned hash is
// the primary key; the amount is kept exactly as the caller supplied it.
type Transaction struct {
	Hash      string   `gorm:"primaryKey;size:66"`
	UserID    string   `gorm:"index;size:128;not null"`
	To        string   `gorm:"size:42;not null"`
	Amount    string   `gorm:"size:64;not null"`
	Status    TxStatus `gorm:"size:16;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the relay service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Transaction{},
	)
}
