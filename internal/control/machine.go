// Package control owns the crawl lifecycle. Machine is the only writer of
// the crawl state; Server exposes it over a line-oriented TCP protocol.
//
//	stopped --start--> running --pause--> pausing --(no workers)--> paused
//	paused  --run-->   running
//	paused  --stop-->  stopped (after the database writer drains)
//	running --stop-->  pause fully, then stop
//
// At most one pause, run or stop sequence is in flight. A request that
// arrives while another one is running is rejected and sees the current
// state instead.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/crawler"
	"github.com/alvmarrod/follow-weaver/internal/frontier"
	"github.com/alvmarrod/follow-weaver/internal/stopwatch"
	"github.com/alvmarrod/follow-weaver/internal/writer"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Config holds the components a Machine drives
type Config struct {
	Crawler   *crawler.Crawler
	Writer    *writer.Writer
	Frontier  frontier.Frontier
	Stopwatch *stopwatch.Stopwatch

	// PollInterval is how often a pause re-reads the worker count.
	PollInterval time.Duration
}

// Validate checks the configuration and fills in defaults
func (cfg *Config) Validate() error {
	var err error
	if cfg.Crawler == nil {
		err = multierror.Append(err, errors.New("crawler has not been provided"))
	}
	if cfg.Writer == nil {
		err = multierror.Append(err, errors.New("writer has not been provided"))
	}
	if cfg.Frontier == nil {
		err = multierror.Append(err, errors.New("frontier has not been provided"))
	}
	if cfg.Stopwatch == nil {
		err = multierror.Append(err, errors.New("stopwatch has not been provided"))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return err
}

// Machine is the control state machine of a crawl
type Machine struct {
	cfg Config

	mu    sync.RWMutex
	state crawler.State
	runID string

	// busy is held for the whole of a transition sequence
	busy atomic.Bool

	writerCancel context.CancelFunc
	writerDone   chan struct{}
	done         chan struct{}
	crawlErr     error
}

// NewMachine creates a machine in the Stopped state
func NewMachine(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("control: config validation failed: %w", err)
	}
	return &Machine{
		cfg:   cfg,
		state: crawler.Stopped,
		done:  make(chan struct{}),
	}, nil
}

// State returns the current state
func (m *Machine) State() crawler.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) setState(s crawler.State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	runID := m.runID
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{"run_id": runID, "from": prev, "to": s}).Info("State changed")
}

func (m *Machine) log() *logrus.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return logrus.WithField("run_id", m.runID)
}

// Done is closed once the crawl has ended, either because the frontier was
// exhausted or because it was stopped, and the writer has been drained.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Err returns the error the crawl loop ended with, if any. Only meaningful
// after Done is closed.
func (m *Machine) Err() error {
	return m.crawlErr
}

// Workers returns the number of active expansion tasks
func (m *Machine) Workers() int {
	return m.cfg.Crawler.Active()
}

// Elapsed returns the accumulated running time
func (m *Machine) Elapsed() time.Duration {
	return m.cfg.Stopwatch.Elapsed()
}

// Crawled returns the number of nodes ever discovered
func (m *Machine) Crawled(ctx context.Context) (int64, error) {
	return m.cfg.Frontier.SetSize(ctx)
}

// Left returns the number of nodes waiting to be expanded
func (m *Machine) Left(ctx context.Context) (int64, error) {
	return m.cfg.Frontier.QueueSize(ctx)
}

func (m *Machine) acquire() bool {
	return m.busy.CompareAndSwap(false, true)
}

func (m *Machine) release() {
	m.busy.Store(false)
}

// Start moves a stopped machine to Running: it starts the stopwatch, the
// database writer and the crawl loop. A machine can be started once.
func (m *Machine) Start(ctx context.Context) error {
	if !m.acquire() {
		return fmt.Errorf("cannot start: a transition is in progress")
	}
	defer m.release()

	if st := m.State(); st != crawler.Stopped || m.writerDone != nil {
		return fmt.Errorf("cannot start from state %s", st)
	}
	if err := m.cfg.Stopwatch.Start(); err != nil {
		return fmt.Errorf("cannot start: %w", err)
	}

	m.mu.Lock()
	m.runID = uuid.NewString()
	m.mu.Unlock()

	writerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.writerCancel = cancel
	m.writerDone = make(chan struct{})
	go func() {
		defer close(m.writerDone)
		m.cfg.Writer.Run(writerCtx)
	}()

	m.setState(crawler.Running)
	m.log().Info("Crawler start!")

	go m.crawl(ctx)
	return nil
}

// crawl runs the crawl loop and finishes the crawl when the loop ends on
// its own.
func (m *Machine) crawl(ctx context.Context) {
	defer close(m.done)

	err := m.cfg.Crawler.Run(ctx, m)
	if errors.Is(err, crawler.ErrStopped) {
		m.log().Info("Crawler stop by client command.")
		return
	}
	if err != nil {
		m.crawlErr = err
		m.log().Errorf("Crawl loop failed: %v", err)
	}

	// wait for any in-flight pause to complete, then stop
	for !m.acquire() {
		time.Sleep(m.cfg.PollInterval)
	}
	defer m.release()

	if m.State() == crawler.Running {
		m.stopWatch()
	}
	if m.State() != crawler.Stopped {
		m.stopLocked(context.WithoutCancel(ctx))
	}
	m.log().Info("Finished!")
}

// Pause moves a running machine to Paused. begin is called once the pause
// is committed, then report with the number of active workers each time it
// drops, ending with 0. It returns the state after the call and whether a
// pause was performed.
func (m *Machine) Pause(ctx context.Context, begin func(), report func(workers int)) (crawler.State, bool) {
	if !m.acquire() {
		return m.State(), false
	}
	defer m.release()

	if m.State() != crawler.Running {
		return m.State(), false
	}
	if begin != nil {
		begin()
	}
	m.pauseLocked(ctx, report)
	return m.State(), true
}

func (m *Machine) pauseLocked(ctx context.Context, report func(workers int)) {
	m.setState(crawler.Pausing)
	m.log().Info("Try to pause crawler...")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	last := -1
	for {
		// re-read after every sleep; workers finish while we wait
		n := m.cfg.Crawler.Active()
		if last < 0 || n < last {
			last = n
			if report != nil {
				report(n)
			}
		}
		if n == 0 {
			break
		}
		<-ticker.C
	}

	m.stopWatch()
	m.saveTime(ctx)
	m.setState(crawler.Paused)
	m.log().Info("Crawler pause.")
}

// Resume moves a paused machine back to Running.
func (m *Machine) Resume() (crawler.State, bool) {
	if !m.acquire() {
		return m.State(), false
	}
	defer m.release()

	if m.State() != crawler.Paused {
		return m.State(), false
	}
	if err := m.cfg.Stopwatch.Start(); err != nil {
		m.log().Warnf("Stopwatch: %v", err)
	}
	m.setState(crawler.Running)
	return m.State(), true
}

// Stop moves a running or paused machine to Stopped. A running machine is
// paused first, calling begin and report like Pause. waiting is called once
// the machine starts waiting for the database writer.
func (m *Machine) Stop(ctx context.Context, begin func(), report func(workers int), waiting func()) (crawler.State, bool) {
	if !m.acquire() {
		return m.State(), false
	}
	defer m.release()

	switch m.State() {
	case crawler.Running:
		if begin != nil {
			begin()
		}
		m.pauseLocked(ctx, report)
	case crawler.Paused:
	default:
		return m.State(), false
	}

	if waiting != nil {
		waiting()
	}
	m.stopLocked(ctx)
	return m.State(), true
}

// stopLocked drains the writer, saves the elapsed time, stops the writer
// and marks the machine Stopped.
func (m *Machine) stopLocked(ctx context.Context) {
	m.log().Info("Try to stop crawler.")

	m.log().Info("Waiting database writer finish...")
	if err := m.cfg.Writer.Drain(ctx); err != nil {
		m.log().Warnf("Database writer did not drain: %v", err)
	} else {
		m.log().Info("Database writer finish.")
	}

	m.saveTime(ctx)

	if m.writerCancel != nil {
		m.writerCancel()
		<-m.writerDone
		m.writerCancel = nil
	}

	m.setState(crawler.Stopped)
	m.log().Info("Crawler stopped.")
}

func (m *Machine) stopWatch() {
	if err := m.cfg.Stopwatch.Stop(); err != nil {
		m.log().Warnf("Stopwatch: %v", err)
	}
}

// SaveTime persists the accumulated running time.
func (m *Machine) SaveTime(ctx context.Context) {
	m.saveTime(ctx)
}

func (m *Machine) saveTime(ctx context.Context) {
	if err := m.cfg.Frontier.SaveElapsed(ctx, m.cfg.Stopwatch.Elapsed()); err != nil {
		m.log().Warnf("Failed to save elapsed time: %v", err)
	}
}
