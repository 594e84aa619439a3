package control

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/crawler"
	"github.com/alvmarrod/follow-weaver/internal/frontier"
	"github.com/alvmarrod/follow-weaver/internal/metrics"
	"github.com/alvmarrod/follow-weaver/internal/source"
	"github.com/alvmarrod/follow-weaver/internal/stopwatch"
	"github.com/alvmarrod/follow-weaver/internal/storage"
	"github.com/alvmarrod/follow-weaver/internal/writer"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSource blocks the expansion of an id until its gate is closed.
type gatedSource struct {
	graph map[string][]string

	mu    sync.Mutex
	gates map[string]chan struct{}
	calls map[string]int
}

func newGatedSource(graph map[string][]string, gated ...string) *gatedSource {
	g := &gatedSource{
		graph: graph,
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
	for _, id := range gated {
		g.gates[id] = make(chan struct{})
	}
	return g
}

func (g *gatedSource) Fetch(_ context.Context, id string) (source.People, error) {
	return source.People{ID: id, Name: strings.ToUpper(id)}, nil
}

func (g *gatedSource) Followees(ctx context.Context, id string) iter.Seq2[source.People, error] {
	return func(yield func(source.People, error) bool) {
		g.mu.Lock()
		g.calls[id]++
		gate := g.gates[id]
		g.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				yield(source.People{}, ctx.Err())
				return
			}
		}
		for _, n := range g.graph[id] {
			if !yield(source.People{ID: n, Name: strings.ToUpper(n)}, nil) {
				return
			}
		}
	}
}

func (g *gatedSource) open(id string) {
	close(g.gates[id])
}

// release lets exactly one blocked expansion of id through.
func (g *gatedSource) release(id string) {
	g.gates[id] <- struct{}{}
}

func (g *gatedSource) openAll() {
	for _, gate := range g.gates {
		close(gate)
	}
}

func (g *gatedSource) callCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

type memStore struct {
	mu  sync.Mutex
	ids []string
}

func (m *memStore) InsertProfile(_ context.Context, rec storage.ProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, rec.ID)
	return nil
}

func (m *memStore) sorted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := append([]string(nil), m.ids...)
	sort.Strings(ids)
	return ids
}

type fixture struct {
	machine  *Machine
	server   *Server
	addr     string
	frontier *frontier.Memory
	source   *gatedSource
	store    *memStore
	clock    *testclock.Clock
	ctx      context.Context
}

func newFixture(t *testing.T, src *gatedSource, workers int) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		frontier: frontier.NewMemory(),
		source:   src,
		store:    &memStore{},
		clock:    testclock.NewClock(time.Unix(0, 0)),
		ctx:      ctx,
	}

	tracker := metrics.NewTracker()
	queue := writer.NewQueue()

	c, err := crawler.NewCrawler(crawler.Config{
		Frontier:     f.frontier,
		Source:       src,
		Queue:        queue,
		Tracker:      tracker,
		Workers:      workers,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	f.machine, err = NewMachine(Config{
		Crawler:      c,
		Writer:       writer.New(queue, f.store, 5*time.Millisecond, tracker),
		Frontier:     f.frontier,
		Stopwatch:    stopwatch.New(f.clock, 0),
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, c.Seed(ctx, "root"))

	f.server, err = Listen("127.0.0.1:0", f.machine)
	require.NoError(t, err)
	f.addr = f.server.Addr().String()
	go func() { _ = f.server.Serve(ctx) }()

	return f
}

func (f *fixture) send(t *testing.T, command string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, Send(ctx, f.addr, command, &buf))
	return buf.String()
}

// sendAsync issues command in the background and returns its reply channel.
func (f *fixture) sendAsync(command string) <-chan string {
	out := make(chan string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
		defer cancel()

		var buf bytes.Buffer
		_ = Send(ctx, f.addr, command, &buf)
		out <- buf.String()
	}()
	return out
}

func (f *fixture) waitState(t *testing.T, want crawler.State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.machine.State() == want }, 5*time.Second, time.Millisecond,
		"state never became %s", want)
}

func (f *fixture) waitWorkers(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.machine.Workers() == want }, 5*time.Second, time.Millisecond,
		"worker count never became %d", want)
}

func (f *fixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.machine.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("crawl did not finish")
	}
}

// waitBlocked waits until every id is parked at its gate.
func waitBlocked(t *testing.T, src *gatedSource, ids ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if src.callCount(id) == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)
}

func workerLine(n int) string {
	return fmt.Sprintf(responseWorkerStream, n)
}

func TestNewMachineValidation(t *testing.T) {
	_, err := NewMachine(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawler has not been provided")
	assert.Contains(t, err.Error(), "stopwatch has not been provided")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, newGatedSource(nil), 1)

	assert.Equal(t, "I can't understand your words.\n", f.send(t, "xyz"))
	assert.Equal(t, crawler.Stopped, f.machine.State())
}

func TestQueriesBeforeStart(t *testing.T) {
	f := newFixture(t, newGatedSource(nil), 1)

	assert.Equal(t, "I'm stopped.\n", f.send(t, "state"))
	assert.Equal(t, "I have 1 people to crawl. Oh, I hate work!\n", f.send(t, "left"))
	assert.Equal(t, "There are  0 worker(s) crawling now.\n", f.send(t, "worker"))
	assert.Equal(t, "I crawled 1 people in 0.00, speed 0.00, I'm great!\n", f.send(t, "crawled"))

	// nothing to pause, resume or stop yet
	assert.Equal(t, "I'm stopped.\n", f.send(t, "pause"))
	assert.Equal(t, "I'm stopped.\n", f.send(t, "run"))
	assert.Equal(t, "I'm stopped.\n", f.send(t, "stop"))
	assert.Equal(t, crawler.Stopped, f.machine.State())
}

func TestCrawlFinishesNaturally(t *testing.T) {
	f := newFixture(t, newGatedSource(map[string][]string{"root": {"b", "c"}}), 2)

	require.NoError(t, f.machine.Start(f.ctx))
	require.Error(t, f.machine.Start(f.ctx), "a machine starts once")

	f.waitDone(t)

	assert.Equal(t, crawler.Stopped, f.machine.State())
	assert.NoError(t, f.machine.Err())
	assert.Equal(t, []string{"b", "c", "root"}, f.store.sorted())

	visited, queued := f.frontier.Snapshot()
	assert.Len(t, visited, 3)
	assert.Empty(t, queued)
}

func TestPauseStreamsDecreasingWorkerCounts(t *testing.T) {
	src := newGatedSource(map[string][]string{"root": {"a", "b", "c"}}, "a", "b", "c")
	f := newFixture(t, src, 3)

	require.NoError(t, f.machine.Start(f.ctx))
	waitBlocked(t, src, "a", "b", "c")
	f.waitWorkers(t, 3)
	assert.Equal(t, "There are  3 worker(s) crawling now.\n", f.send(t, "worker"))

	reply := f.sendAsync("pause")
	f.waitState(t, crawler.Pausing)

	// a second pause while pausing is a no-op
	assert.Equal(t, "I'm pausing.\n", f.send(t, "pause"))
	assert.Equal(t, "I'm pausing.\n", f.send(t, "stop"))
	assert.Equal(t, "I'm pausing.\n", f.send(t, "run"))

	for i, id := range []string{"a", "b", "c"} {
		time.Sleep(30 * time.Millisecond)
		src.open(id)
		f.waitWorkers(t, 2-i)
	}

	got := <-reply
	want := responsePause + workerLine(3) + workerLine(2) + workerLine(1) + workerLine(0) + responsePauseFinish
	assert.Equal(t, want, got)

	assert.Equal(t, crawler.Paused, f.machine.State())
	assert.Equal(t, "I'm paused.\n", f.send(t, "pause"))
}

func TestLosingTransitionSendsNoPreamble(t *testing.T) {
	src := newGatedSource(map[string][]string{"root": {"a"}}, "a")
	f := newFixture(t, src, 2)
	t.Cleanup(src.openAll)

	require.NoError(t, f.machine.Start(f.ctx))
	waitBlocked(t, src, "a")

	// another transition holds the machine
	require.True(t, f.machine.acquire())

	began := false
	st, ok := f.machine.Pause(f.ctx, func() { began = true }, nil)
	assert.False(t, ok)
	assert.Equal(t, crawler.Running, st)
	assert.False(t, began)

	for _, command := range []string{"pause", "stop"} {
		var out bytes.Buffer
		f.server.dispatch(f.ctx, []byte(command+"\n"), &out)
		assert.Equal(t, "I'm running.\n", out.String(), command)
	}

	f.machine.release()
	assert.Equal(t, crawler.Running, f.machine.State())
}

func TestPauseResumePreservesFrontier(t *testing.T) {
	graph := map[string][]string{"root": {"a", "b", "c", "d", "e", "f"}}
	src := newGatedSource(graph, "a", "b", "c", "d", "e", "f")
	f := newFixture(t, src, 2)

	require.NoError(t, f.machine.Start(f.ctx))
	f.waitWorkers(t, 2)

	reply := f.sendAsync("pause")
	f.waitState(t, crawler.Pausing)
	src.openAll()
	f.waitState(t, crawler.Paused)
	assert.True(t, strings.HasSuffix(<-reply, responsePauseFinish))

	visited1, queued1 := f.frontier.Snapshot()
	sort.Strings(visited1)
	sort.Strings(queued1)
	assert.Len(t, visited1, 7)

	time.Sleep(50 * time.Millisecond)
	visited2, queued2 := f.frontier.Snapshot()
	sort.Strings(visited2)
	sort.Strings(queued2)
	assert.Equal(t, visited1, visited2, "nothing is discovered while paused")
	assert.Equal(t, queued1, queued2, "nothing is expanded while paused")

	assert.Equal(t, "I will try my best to work for you!\n", f.send(t, "run"))

	f.waitDone(t)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		assert.Equal(t, 1, src.callCount(id), "node %s must be expanded exactly once", id)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "root"}, f.store.sorted())
}

func TestStopFromRunningDrainsWriter(t *testing.T) {
	src := newGatedSource(map[string][]string{"root": {"a", "b"}, "a": {"x"}}, "a")
	f := newFixture(t, src, 2)

	require.NoError(t, f.machine.Start(f.ctx))
	require.Eventually(t, func() bool {
		return src.callCount("a") == 1 && src.callCount("b") == 1 && f.machine.Workers() == 1
	}, 5*time.Second, time.Millisecond)
	f.clock.Advance(4 * time.Second)

	assert.Equal(t, "I'm running.\n", f.send(t, "run"))

	reply := f.sendAsync("stop")
	f.waitState(t, crawler.Pausing)
	src.open("a")

	got := <-reply
	assert.True(t, strings.HasPrefix(got, responsePause+workerLine(1)), got)
	assert.True(t, strings.HasSuffix(got, workerLine(0)+responseWaitDB+responseStop), got)

	f.waitDone(t)
	assert.Equal(t, crawler.Stopped, f.machine.State())
	assert.Equal(t, []string{"a", "b", "root", "x"}, f.store.sorted())

	elapsed, err := f.frontier.LoadElapsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, elapsed)

	assert.Equal(t, "I'm stopped.\n", f.send(t, "stop"))
}

func TestElapsedOnlyAdvancesWhileRunning(t *testing.T) {
	src := newGatedSource(map[string][]string{"root": {"a"}}, "a")
	f := newFixture(t, src, 1)

	require.NoError(t, f.machine.Start(f.ctx))
	f.waitWorkers(t, 1)
	f.clock.Advance(5 * time.Second)

	reply := f.sendAsync("pause")
	f.waitState(t, crawler.Pausing)
	src.open("a")
	<-reply
	f.waitState(t, crawler.Paused)

	saved, err := f.frontier.LoadElapsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, saved)

	f.clock.Advance(100 * time.Second)
	assert.Equal(t, 5*time.Second, f.machine.Elapsed())
	assert.Equal(t, "I crawled 2 people in 5.00, speed 0.40, I'm great!\n", f.send(t, "crawled"))

	// stop from paused: no pause stream, only the writer wait
	assert.Equal(t, responseWaitDB+responseStop, f.send(t, "stop"))
	f.waitDone(t)

	saved, err = f.frontier.LoadElapsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, saved)
}

func TestResumeAccumulatesRunningIntervals(t *testing.T) {
	src := newGatedSource(map[string][]string{"root": {"a", "b"}}, "a", "b")
	f := newFixture(t, src, 1)

	require.NoError(t, f.machine.Start(f.ctx))
	require.Eventually(t, func() bool {
		return src.callCount("a")+src.callCount("b") == 1
	}, 5*time.Second, time.Millisecond)
	first, second := "a", "b"
	if src.callCount("b") == 1 {
		first, second = "b", "a"
	}
	f.clock.Advance(2 * time.Second)

	reply := f.sendAsync("pause")
	f.waitState(t, crawler.Pausing)
	src.release(first)
	<-reply
	f.waitState(t, crawler.Paused)

	f.clock.Advance(time.Minute)
	assert.Equal(t, "I will try my best to work for you!\n", f.send(t, "run"))
	require.Eventually(t, func() bool { return src.callCount(second) == 1 }, 5*time.Second, time.Millisecond)
	f.clock.Advance(3 * time.Second)
	src.release(second)

	f.waitDone(t)
	saved, err := f.frontier.LoadElapsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, saved)
}

func TestListenBindFailure(t *testing.T) {
	f := newFixture(t, newGatedSource(nil), 1)

	_, err := Listen(f.addr, f.machine)
	require.Error(t, err)
}
