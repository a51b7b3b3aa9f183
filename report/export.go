package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"chainrelay/models"
)

// Lister supplies the transaction records inside an export window.
type Lister interface {
	ListWindow(ctx context.Context, start, end time.Time) ([]models.Transaction, error)
}

// Exporter materialises operator-facing transaction dumps. It only reads the
// store; lifecycle transitions stay inquiry-driven.
type Exporter struct {
	lister    Lister
	outputDir string
	logger    *slog.Logger
}

// Result names the files produced by one export run.
type Result struct {
	CSVPath     string
	ParquetPath string
	Rows        int
}

// NewExporter builds an exporter writing under outputDir.
func NewExporter(lister Lister, outputDir string, logger *slog.Logger) (*Exporter, error) {
	if lister == nil {
		return nil, fmt.Errorf("report: lister required")
	}
	if outputDir == "" {
		outputDir = filepath.Join("relay-data", "reports")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{lister: lister, outputDir: outputDir, logger: logger}, nil
}

// Export writes CSV and Parquet dumps of all transactions created inside
// [start, end) and returns the produced paths.
func (e *Exporter) Export(ctx context.Context, start, end time.Time) (*Result, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("report: window end must follow start")
	}
	txs, err := e.lister.ListWindow(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("report: load window: %w", err)
	}

	runDir := filepath.Join(e.outputDir, fmt.Sprintf("%s_%s", start.Format("20060102"), end.Format("20060102")))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}
	base := fmt.Sprintf("transactions_%s", uuid.NewString()[:8])

	csvPath := filepath.Join(runDir, base+".csv")
	if err := writeCSV(csvPath, txs); err != nil {
		return nil, err
	}
	parquetPath := filepath.Join(runDir, base+".parquet")
	if err := writeParquet(parquetPath, txs); err != nil {
		return nil, err
	}

	e.logger.Info("report written", "csv", csvPath, "parquet", parquetPath, "rows", len(txs))
	return &Result{CSVPath: csvPath, ParquetPath: parquetPath, Rows: len(txs)}, nil
}

func writeCSV(path string, txs []models.Transaction) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"hash", "user_id", "to", "amount", "status", "created_at", "updated_at"}); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, tx := range txs {
		record := []string{
			tx.Hash,
			tx.UserID,
			tx.To,
			tx.Amount,
			string(tx.Status),
			tx.CreatedAt.Format(time.RFC3339),
			tx.UpdatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	Hash      string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserID    string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	To        string `parquet:"name=to, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount    string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status    string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	UpdatedAt string `parquet:"name=updated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, txs []models.Transaction) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, tx := range txs {
		row := &parquetRow{
			Hash:      tx.Hash,
			UserID:    tx.UserID,
			To:        tx.To,
			Amount:    tx.Amount,
			Status:    string(tx.Status),
			CreatedAt: tx.CreatedAt.Format(time.RFC3339),
			UpdatedAt: tx.UpdatedAt.Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("report: parquet flush: %w", err)
	}
	return file.Close()
}
