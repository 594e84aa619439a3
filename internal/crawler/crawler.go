package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/frontier"
	"github.com/alvmarrod/follow-weaver/internal/metrics"
	"github.com/alvmarrod/follow-weaver/internal/source"
	"github.com/alvmarrod/follow-weaver/internal/writer"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned by Run when the crawl was stopped before the
// frontier was exhausted.
var ErrStopped = errors.New("crawl stopped")

// Config holds the collaborators of a Crawler
type Config struct {
	Frontier frontier.Frontier
	Source   source.Source
	Queue    *writer.Queue
	Tracker  *metrics.Tracker

	// Workers is the number of expansion tasks allowed to run at once.
	Workers int
	// PollInterval is how often the main loop re-checks state while it
	// cannot make progress.
	PollInterval time.Duration
}

// Validate checks the configuration and fills in defaults
func (cfg *Config) Validate() error {
	var err error
	if cfg.Frontier == nil {
		err = multierror.Append(err, errors.New("frontier has not been provided"))
	}
	if cfg.Source == nil {
		err = multierror.Append(err, errors.New("graph source has not been provided"))
	}
	if cfg.Queue == nil {
		err = multierror.Append(err, errors.New("write queue has not been provided"))
	}
	if cfg.Workers <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for workers: %d", cfg.Workers))
	}
	if cfg.Tracker == nil {
		cfg.Tracker = metrics.NewTracker()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return err
}

// Crawler expands the frontier with a bounded pool of goroutines
type Crawler struct {
	cfg    Config
	slots  *semaphore.Weighted
	active atomic.Int64
	failed atomic.Bool
	wake   chan struct{}
	wg     sync.WaitGroup
}

// NewCrawler creates a new crawler instance
func NewCrawler(cfg Config) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("crawler: config validation failed: %w", err)
	}
	return &Crawler{
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(cfg.Workers)),
		wake:  make(chan struct{}, 1),
	}, nil
}

// Active returns the number of expansion tasks currently running
func (c *Crawler) Active() int {
	return int(c.active.Load())
}

// Seed makes sure the root node is claimed and its profile recorded. Once
// the root is in the frontier set, Seed does nothing, so across restarts the
// root record is queued exactly once.
func (c *Crawler) Seed(ctx context.Context, rootID string) error {
	known, err := c.cfg.Frontier.Contains(ctx, rootID)
	if err != nil {
		return fmt.Errorf("failed to check root: %w", err)
	}
	if known {
		logrus.WithField("node_id", rootID).Info("Root already in frontier, resuming")
		return nil
	}

	root, err := c.cfg.Source.Fetch(ctx, rootID)
	if err != nil {
		return fmt.Errorf("failed to fetch root %s: %w", rootID, err)
	}

	isNew, err := c.cfg.Frontier.TryClaim(ctx, rootID)
	if err != nil {
		return fmt.Errorf("failed to claim root: %w", err)
	}
	if isNew {
		rec := root.Record()
		rec.ID = rootID
		c.cfg.Queue.Push(rec)
		c.cfg.Tracker.IncrementNodesDiscovered()
		logrus.WithField("node_id", rootID).Info("Root claimed")
	}
	return nil
}

// Run pops ids off the frontier and spawns an expansion task per id while
// state is Running. It returns nil once the queue is empty with no task
// left that could refill it, ErrStopped when state becomes Stopped, or the
// context error. Run waits for its tasks before returning.
func (c *Crawler) Run(ctx context.Context, state StateReader) error {
	defer c.wg.Wait()

	logrus.Infof("Starting crawler with %d workers", c.cfg.Workers)

	for {
		// checkpoint
		for st := state.State(); st != Running; st = state.State() {
			if st == Stopped {
				return ErrStopped
			}
			if err := c.sleep(ctx); err != nil {
				return err
			}
		}

		// a failed expansion put its id back; give the source a moment
		// before popping it again
		if c.failed.Swap(false) {
			if err := c.backoff(ctx); err != nil {
				return err
			}
			continue
		}

		if err := c.slots.Acquire(ctx, 1); err != nil {
			return err
		}
		// counted before the state check so a pause cannot miss a popped id
		c.active.Add(1)
		if state.State() != Running {
			c.active.Add(-1)
			c.slots.Release(1)
			continue
		}

		id, ok, err := c.cfg.Frontier.Pop(ctx)
		if err != nil {
			c.active.Add(-1)
			c.slots.Release(1)
			logrus.Warnf("Failed to pop frontier: %v", err)
			if err := c.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		if !ok {
			c.slots.Release(1)
			if c.active.Add(-1) == 0 {
				// a task may have queued work and finished since the pop
				left, err := c.cfg.Frontier.QueueSize(ctx)
				if err == nil && left == 0 {
					logrus.Info("Frontier exhausted")
					return nil
				}
				if err == nil {
					continue
				}
				logrus.Warnf("Failed to read queue size: %v", err)
			}
			if err := c.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		c.wg.Add(1)
		go c.expand(ctx, id, state)
	}
}

// sleep waits for PollInterval, an expansion task finishing, or ctx.
func (c *Crawler) sleep(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.wake:
	case <-timer.C:
	}
	return nil
}

// backoff waits for PollInterval or ctx; finishing tasks do not cut it short.
func (c *Crawler) backoff(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return nil
}

// expand walks the followees of id and claims each of them. A node the
// source no longer has is dropped; it stays in the set so it is never
// claimed again. Any other failure puts id back on the queue so it is
// retried by a later task.
func (c *Crawler) expand(ctx context.Context, id string, state StateReader) {
	log := logrus.WithField("node_id", id)

	defer func() {
		if r := recover(); r != nil {
			log.Warnf("Worker died! Reason: %v", r)
			c.requeue(ctx, id)
			c.cfg.Tracker.IncrementFetchFailures()
			c.failed.Store(true)
		}
		c.active.Add(-1)
		c.slots.Release(1)
		c.wg.Done()

		select {
		case c.wake <- struct{}{}:
		default:
		}
	}()

	if state.State() != Running {
		log.Debug("Not running, returning id to frontier")
		c.requeue(ctx, id)
		return
	}

	log.Debug("Start work")

	for p, err := range c.cfg.Source.Followees(ctx, id) {
		if err == nil {
			err = c.claim(ctx, id, p)
		}
		if errors.Is(err, source.ErrNotFound) {
			log.Warn("Node not found at source, skipping")
			c.cfg.Tracker.IncrementNodesMissing()
			return
		}
		if err != nil {
			log.Warnf("Worker died! Reason: %v", err)
			c.requeue(ctx, id)
			c.cfg.Tracker.IncrementFetchFailures()
			c.failed.Store(true)
			return
		}
	}

	c.cfg.Tracker.IncrementNodesExpanded()
}

func (c *Crawler) claim(ctx context.Context, from string, p source.People) error {
	isNew, err := c.cfg.Frontier.TryClaim(ctx, p.ID)
	if err != nil {
		return err
	}
	if isNew {
		logrus.WithFields(logrus.Fields{"node_id": p.ID, "from": from}).Debugf("Discovered %s", p.Name)
		c.cfg.Queue.Push(p.Record())
		c.cfg.Tracker.IncrementNodesDiscovered()
	}
	return nil
}

func (c *Crawler) requeue(ctx context.Context, id string) {
	if err := c.cfg.Frontier.Requeue(context.WithoutCancel(ctx), id); err != nil {
		logrus.WithField("node_id", id).Errorf("Failed to requeue: %v", err)
	}
}
