// Package report serialises the aggregator's final snapshot to JSON with a
// stable key order, creating parent directories as needed.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"starknet-shoot/internal/hostinfo"
	"starknet-shoot/internal/metrics"
)

// Document is the top-level report object. Field order here is the JSON
// key order the report is written in: users, all_bench_report, benches,
// extra.
type Document struct {
	Users           int                   `json:"users"`
	AllBenchReport  metrics.BenchReport   `json:"all_bench_report"`
	Benches         []metrics.BenchReport `json:"benches"`
	Extra           hostinfo.Info         `json:"extra"`
}

// Write serialises doc to path, creating parent directories as needed and
// overwriting any existing file.
func Write(path string, doc Document) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: creating %s: %w", dir, err)
		}
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshaling: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("report: writing %s: %w", path, err)
	}
	return nil
}
