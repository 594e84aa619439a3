package writer

import (
	"sync"

	"github.com/alvmarrod/follow-weaver/internal/storage"
)

// Queue is the in-memory FIFO of records waiting to be persisted. Producers
// never block. Nothing in it survives a crash.
type Queue struct {
	mu       sync.Mutex
	items    []storage.ProfileRecord
	inFlight int
	notify   chan struct{}
}

// NewQueue creates an empty write queue
func NewQueue() *Queue {
	return &Queue{
		items:  make([]storage.ProfileRecord, 0),
		notify: make(chan struct{}, 1),
	}
}

// Push appends a record and wakes the writer if it is idle
func (q *Queue) Push(rec storage.ProfileRecord) {
	q.mu.Lock()
	q.items = append(q.items, rec)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest record and marks it in flight until done is called
func (q *Queue) pop() (storage.ProfileRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return storage.ProfileRecord{}, false
	}
	rec := q.items[0]
	q.items[0] = storage.ProfileRecord{}
	q.items = q.items[1:]
	q.inFlight++
	return rec, true
}

func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
}

// Len returns the number of records not yet handed to the store
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty returns true when no record is queued or being inserted
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inFlight == 0
}
