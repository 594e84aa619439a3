// Package frontier holds the crawl frontier: the set of every node ever
// discovered and the queue of nodes still waiting to be expanded.
//
// A node id is claimed exactly once. TryClaim adds it to the set and, only if
// it was not there before, to the queue; both happen as one atomic step in
// the backing store so concurrent workers, and workers in a restarted
// process, never expand the same node twice. The queue is unordered: Pop
// returns an arbitrary member.
//
// The store also keeps the accumulated crawl time so it survives restarts
// alongside the frontier it describes.
package frontier

import (
	"context"
	"time"
)

// Frontier is implemented by Redis (durable) and Memory (process local).
type Frontier interface {
	// TryClaim reports whether id was newly added. Only a new id is queued.
	TryClaim(ctx context.Context, id string) (bool, error)
	// Pop removes an arbitrary queued id. ok is false when the queue is empty.
	Pop(ctx context.Context) (id string, ok bool, err error)
	// Requeue puts a previously claimed id back on the queue. Ids that were
	// never claimed are ignored so the queue stays a subset of the set.
	Requeue(ctx context.Context, id string) error
	Contains(ctx context.Context, id string) (bool, error)
	QueueSize(ctx context.Context) (int64, error)
	SetSize(ctx context.Context) (int64, error)

	LoadElapsed(ctx context.Context) (time.Duration, error)
	SaveElapsed(ctx context.Context, d time.Duration) error

	Close() error
}
