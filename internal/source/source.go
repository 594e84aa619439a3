// Package source talks to the social graph: it fetches a profile and walks
// the list of profiles it follows. Authentication stays inside this package.
package source

import (
	"context"
	"errors"
	"iter"
)

// ErrNotFound is returned when the graph has no profile with the given id.
var ErrNotFound = errors.New("profile not found")

// Source is the graph data source the crawler expands nodes with.
type Source interface {
	// Fetch returns the profile of a single node.
	Fetch(ctx context.Context, id string) (People, error)
	// Followees lazily yields the neighbors of a node page by page. The
	// sequence stops after the first error it yields.
	Followees(ctx context.Context, id string) iter.Seq2[People, error]
}
