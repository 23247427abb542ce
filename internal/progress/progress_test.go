package progress

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONReporterThrottles(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, time.Hour)

	r.Report(Update{RunID: "abc", Stage: "initial_data_sync", RecordsMigrated: 1})
	r.Report(Update{RunID: "abc", Stage: "initial_data_sync", RecordsMigrated: 2})
	r.ReportImmediate(Update{RunID: "abc", Stage: "validation", RecordsMigrated: 3})
	r.Close()
	r.ReportImmediate(Update{RunID: "abc", Stage: "cleanup"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var u Update
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &u))
	assert.Equal(t, "validation", u.Stage)
	assert.Equal(t, int64(3), u.RecordsMigrated)
	assert.NotEmpty(t, u.Timestamp)
}

func TestTrackerCounts(t *testing.T) {
	tr := NewWithWriter(io.Discard)
	tr.SetTotal(10)
	tr.Add(3)
	tr.Set(7)
	tr.Set(5)
	tr.Describe("users")
	assert.Equal(t, int64(7), tr.Current())
	tr.Finish()
}
