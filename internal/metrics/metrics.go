package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/storage"
)

// Tracker holds and manages crawl metrics for the lifetime of the process
type Tracker struct {
	mu   sync.Mutex
	data storage.Metrics
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
	}
}

// IncrementNodesExpanded counts a node whose neighbors were fully walked
func (t *Tracker) IncrementNodesExpanded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesExpanded++
}

// IncrementNodesDiscovered counts a newly claimed node
func (t *Tracker) IncrementNodesDiscovered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesDiscovered++
}

// IncrementFetchFailures counts an expansion that failed and was requeued
func (t *Tracker) IncrementFetchFailures() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.FetchFailures++
}

// IncrementNodesMissing counts a node the source reported as gone
func (t *Tracker) IncrementNodesMissing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesMissing++
}

// IncrementRecordsWritten counts a record persisted by the writer
func (t *Tracker) IncrementRecordsWritten() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RecordsWritten++
}

// IncrementRecordsDropped counts a record the writer failed to insert
func (t *Tracker) IncrementRecordsDropped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RecordsDropped++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason

	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for the periodic progress log
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Nodes: %d discovered, %d expanded, %d failed, %d missing | Records: %d written, %d dropped",
		t.data.NodesDiscovered,
		t.data.NodesExpanded,
		t.data.FetchFailures,
		t.data.NodesMissing,
		t.data.RecordsWritten,
		t.data.RecordsDropped,
	)
}
