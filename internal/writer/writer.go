// Package writer drains the pending write queue into the record store on a
// single long-lived goroutine.
package writer

import (
	"context"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/metrics"
	"github.com/alvmarrod/follow-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

const drainPoll = 20 * time.Millisecond

// Inserter is the subset of the record store the writer needs.
type Inserter interface {
	InsertProfile(ctx context.Context, rec storage.ProfileRecord) error
}

// Writer persists queued records. An insert failure drops that record: the
// first write for an id wins and duplicates are not retried.
type Writer struct {
	queue   *Queue
	store   Inserter
	idle    time.Duration
	tracker *metrics.Tracker
}

// New creates a writer. idle is how long it sleeps when the queue is empty
// and nothing wakes it.
func New(queue *Queue, store Inserter, idle time.Duration, tracker *metrics.Tracker) *Writer {
	if idle <= 0 {
		idle = time.Second
	}
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	return &Writer{
		queue:   queue,
		store:   store,
		idle:    idle,
		tracker: tracker,
	}
}

// Run loops until ctx is cancelled. Records still queued at that point stay
// in the queue; call Drain first to flush them.
func (w *Writer) Run(ctx context.Context) {
	logrus.Info("Database writer started")
	defer logrus.Info("Database writer stopped")

	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	for {
		for {
			if ctx.Err() != nil {
				return
			}
			rec, ok := w.queue.pop()
			if !ok {
				break
			}
			w.write(ctx, rec)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.idle)

		select {
		case <-ctx.Done():
			return
		case <-w.queue.notify:
		case <-timer.C:
		}
	}
}

func (w *Writer) write(ctx context.Context, rec storage.ProfileRecord) {
	defer w.queue.done()

	// An insert that already started is allowed to finish after cancellation.
	if err := w.store.InsertProfile(context.WithoutCancel(ctx), rec); err != nil {
		logrus.WithField("node_id", rec.ID).Warnf("Database error, record dropped: %v", err)
		w.tracker.IncrementRecordsDropped()
		return
	}
	logrus.WithField("node_id", rec.ID).Debugf("Wrote %s to db", rec.Name)
	w.tracker.IncrementRecordsWritten()
}

// Drain blocks until the queue is empty and no insert is in flight. The
// writer must be running for Drain to make progress.
func (w *Writer) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for !w.queue.IsEmpty() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
