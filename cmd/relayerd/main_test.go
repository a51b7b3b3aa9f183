package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"chainrelay/models"
	"chainrelay/wallet"
)

func TestParseExportWindow(t *testing.T) {
	start, end, err := parseExportWindow("2026-08-01:2026-08-28")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !start.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", start)
	}
	// The end day is included, so the exclusive bound is the next midnight.
	if !end.Equal(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %s", end)
	}

	for _, window := range []string{"", "2026-08-01", "2026-08-01:bad", "2026-08-02:2026-08-01"} {
		if _, _, err := parseExportWindow(window); err == nil {
			t.Fatalf("window %q: expected error", window)
		}
	}
}

func TestRunExportWritesFiles(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tx := models.Transaction{
		Hash:      "0xaaa",
		UserID:    "u1",
		To:        "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		Amount:    "0.05",
		Status:    models.StatusConfirmed,
		CreatedAt: time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&tx).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	outputDir := t.TempDir()
	if err := runExport(context.Background(), db, outputDir, "2026-08-01:2026-08-28", slog.Default()); err != nil {
		t.Fatalf("run export: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(outputDir, "*", "transactions_*.csv"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("csv files = %v (err %v), want exactly one", matches, err)
	}
}

func TestBootstrapKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayer", "keystore.json")

	address, err := bootstrapKeystore(path, "test-passphrase")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat keystore: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("keystore mode = %v, want 0600", info.Mode().Perm())
	}

	key, err := wallet.LoadFromKeystore(path, "test-passphrase")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if key.Address().Hex() != address {
		t.Fatalf("loaded address %s, want %s", key.Address().Hex(), address)
	}

	if _, err := wallet.LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}
