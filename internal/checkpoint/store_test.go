package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWritesOneFilePerCheckpoint(t *testing.T) {
	runDir := t.TempDir()
	s, err := NewStore(runDir)
	require.NoError(t, err)

	require.NoError(t, s.Save(New("preparation", StatusInProgress, nil, "")))
	require.NoError(t, s.Save(New("preparation", StatusPassed, map[string]any{"tables": 2}, "")))
	require.NoError(t, s.Save(New("schema_sync", StatusFailed, nil, "boom")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	names := []string{entries[0].Name(), entries[1].Name(), entries[2].Name()}
	assert.True(t, sort.StringsAreSorted(names))
	assert.Regexp(t, `^000001_preparation_\d{8}T\d{6}\.\d{3}Z\.json$`, names[0])
	assert.Regexp(t, `^000003_schema_sync_`, names[2])

	assert.Len(t, s.All(), 3)
	assert.Equal(t, 1, s.Failed())

	loaded, err := Load(runDir)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, StatusFailed, loaded[2].Status)
	require.NotNil(t, loaded[2].ErrorMessage)
	assert.Equal(t, "boom", *loaded[2].ErrorMessage)
	assert.Nil(t, loaded[0].ErrorMessage)
}

func TestLoadOrdersPastThousandCheckpoints(t *testing.T) {
	runDir := t.TempDir()
	s, err := NewStore(runDir)
	require.NoError(t, err)

	const n = 1005
	for i := 1; i <= n; i++ {
		require.NoError(t, s.Save(New("incremental_sync", StatusPassed, map[string]any{"seq": i}, "")))
	}

	loaded, err := Load(runDir)
	require.NoError(t, err)
	require.Len(t, loaded, n)
	for i, cp := range loaded {
		require.Equal(t, float64(i+1), cp.ValidationResults["seq"], "checkpoint %d", i)
	}
}

func TestLoadOrdersMixedWidthNames(t *testing.T) {
	runDir := t.TempDir()
	dir := filepath.Join(runDir, "checkpoints")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for _, f := range []struct {
		name  string
		stage string
	}{
		{"1000_cleanup_20240101T000003.000Z.json", "cleanup"},
		{"999_cutover_20240101T000002.000Z.json", "cutover"},
		{"002_preparation_20240101T000001.000Z.json", "preparation"},
	} {
		data, err := json.Marshal(New(f.stage, StatusPassed, nil, ""))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, f.name), data, 0o644))
	}

	loaded, err := Load(runDir)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "preparation", loaded[0].Stage)
	assert.Equal(t, "cutover", loaded[1].Stage)
	assert.Equal(t, "cleanup", loaded[2].Stage)
}

func TestCheckpointDocumentFields(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(New("incremental_sync", StatusPassed, map[string]any{"skipped": true}, "")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(s.Dir(), entries[0].Name()))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"error_message", "stage", "status", "timestamp", "validation_results"}, keys)
	assert.Nil(t, doc["error_message"])
	assert.Equal(t, map[string]any{"skipped": true}, doc["validation_results"])
}

func TestSummaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteSummary(dir, map[string]any{"run_id": "abc", "status": "completed"}))

	var got struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	require.NoError(t, ReadSummary(dir, &got))
	assert.Equal(t, "abc", got.RunID)
	assert.Equal(t, "completed", got.Status)

	_, err := os.Stat(filepath.Join(dir, "summary.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}
