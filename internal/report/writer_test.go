package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starknet-shoot/internal/hostinfo"
	"starknet-shoot/internal/metrics"
)

func sampleDoc() Document {
	return Document{
		Users: 3,
		AllBenchReport: metrics.BenchReport{
			Name:   "all_bench_report",
			Amount: 10,
		},
		Benches: []metrics.BenchReport{
			{Name: "transfer", Amount: 10},
		},
		Extra: hostinfo.Info{CPUCount: 4, TotalRAM: 1024, OS: "linux", Arch: "amd64"},
	}
}

func TestWriteCreatesParentDirsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out", "report.json")

	require.NoError(t, Write(path, sampleDoc()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Contains(t, got, "users")
	assert.Contains(t, got, "all_bench_report")
	assert.Contains(t, got, "benches")
	assert.Contains(t, got, "extra")
}

func TestWriteKeyOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	require.NoError(t, Write(path, sampleDoc()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	keys := []string{"users", "all_bench_report", "benches", "extra"}
	lastIdx := -1
	for _, k := range keys {
		idx := indexOfKey(string(data), k)
		require.GreaterOrEqual(t, idx, 0, "key %s not found", k)
		assert.Greater(t, idx, lastIdx, "key %s out of order", k)
		lastIdx = idx
	}
}

func TestWriteOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	require.NoError(t, Write(path, sampleDoc()))

	doc2 := sampleDoc()
	doc2.Users = 99
	require.NoError(t, Write(path, doc2))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"users": 99`)
}

func indexOfKey(s, key string) int {
	needle := `"` + key + `":`
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
