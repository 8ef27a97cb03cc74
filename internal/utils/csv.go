package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dyike/SentiTrader/internal/models"
)

type CSVManager struct {
	basePath string
}

func NewCSVManager(basePath string) *CSVManager {
	return &CSVManager{basePath: basePath}
}

// WriteLedgerCSV writes ledger entries to w.
func WriteLedgerCSV(w io.Writer, entries []models.LedgerEntry) error {
	writer := csv.NewWriter(w)

	headers := []string{"PostID", "Ticker", "WeightedScore", "TitleSnippet", "ProcessedAt"}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.PostID,
			e.Ticker,
			strconv.FormatFloat(e.WeightedScore, 'f', 4, 64),
			e.TitleSnippet,
			e.ProcessedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", e.PostID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ExportLedger writes entries to data/csv/ledger/ledger_<n>_records_<ts>.csv
// and returns the file path.
func (c *CSVManager) ExportLedger(entries []models.LedgerEntry, now time.Time) (string, error) {
	dirPath := filepath.Join(c.basePath, "csv", "ledger")
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	filename := fmt.Sprintf("ledger_%d_records_%s.csv", len(entries), now.Format("20060102_150405"))
	filePath := filepath.Join(dirPath, filename)

	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("create CSV file: %w", err)
	}
	defer file.Close()

	if err := WriteLedgerCSV(file, entries); err != nil {
		return "", err
	}
	return filePath, nil
}

// CleanOldCSVFiles removes exports older than maxAge.
func (c *CSVManager) CleanOldCSVFiles(maxAge time.Duration, now time.Time) (int, error) {
	dir := filepath.Join(c.basePath, "csv", "ledger")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	removed := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".csv") {
			return nil
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove old file %s: %w", path, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("clean directory %s: %w", dir, err)
	}
	return removed, nil
}
