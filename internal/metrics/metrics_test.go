package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alvmarrod/follow-weaver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCounters(t *testing.T) {
	tr := NewTracker()
	tr.IncrementNodesDiscovered()
	tr.IncrementNodesDiscovered()
	tr.IncrementNodesExpanded()
	tr.IncrementFetchFailures()
	tr.IncrementNodesMissing()
	tr.IncrementRecordsWritten()
	tr.IncrementRecordsDropped()

	snap := tr.GetSnapshot()
	assert.Equal(t, 2, snap.NodesDiscovered)
	assert.Equal(t, 1, snap.NodesExpanded)
	assert.Equal(t, 1, snap.FetchFailures)
	assert.Equal(t, 1, snap.NodesMissing)
	assert.Equal(t, 1, snap.RecordsWritten)
	assert.Equal(t, 1, snap.RecordsDropped)

	assert.Equal(t, "Nodes: 2 discovered, 1 expanded, 1 failed, 1 missing | Records: 1 written, 1 dropped", tr.LogProgress())
}

func TestWriteToFile(t *testing.T) {
	tr := NewTracker()
	tr.IncrementRecordsWritten()

	path := filepath.Join(t.TempDir(), "metrics.log")
	require.NoError(t, tr.WriteToFile(path, "stopped"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got storage.Metrics
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "stopped", got.TerminationReason)
	assert.Equal(t, 1, got.RecordsWritten)
	assert.False(t, got.EndTime.Before(got.StartTime))
}
