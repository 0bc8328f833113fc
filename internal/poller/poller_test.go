package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
)

// fakeClock is a clock.Mock that also announces every After registration on
// parked. clock.Mock has no way to report that the loop has reached its wait, and
// advancing before that point would fire nothing.
type fakeClock struct {
	*clock.Mock
	mu        sync.Mutex
	deadlines []time.Time
	parked    chan time.Duration
}

func newFakeClock() *fakeClock {
	m := clock.NewMock()
	m.Add(time.Duration(1_700_000_000) * time.Second)
	return &fakeClock{Mock: m, parked: make(chan time.Duration, 64)}
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.deadlines = append(c.deadlines, c.Mock.Now().Add(d))
	ch := c.Mock.After(d)
	c.mu.Unlock()
	c.parked <- d
	return ch
}

// Advance moves the mock forward and returns how many After waits came due.
func (c *fakeClock) Advance(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Mock.Add(d)
	now := c.Mock.Now()
	fired := 0
	kept := c.deadlines[:0]
	for _, dl := range c.deadlines {
		if !dl.After(now) {
			fired++
			continue
		}
		kept = append(kept, dl)
	}
	c.deadlines = kept
	return fired
}

func waitParked(t *testing.T, c *fakeClock) time.Duration {
	t.Helper()
	select {
	case d := <-c.parked:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("poller never started waiting")
		return 0
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not exit")
	}
}

// counter is a fake fetch whose results are scripted per call.
type counter struct {
	mu    sync.Mutex
	calls int
	at    []time.Time
	clock Clock
	fail  func(n int) bool
}

func (c *counter) fetch(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.clock != nil {
		c.at = append(c.at, c.clock.Now())
	}
	if c.fail != nil && c.fail(c.calls) {
		return 0, errors.New("backend down")
	}
	return c.calls, nil
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestPoller_AlternatingResultsNeverStopLoop(t *testing.T) {
	clk := newFakeClock()
	src := &counter{fail: func(n int) bool { return n%2 == 0 }}
	p := New[int](Options{Clock: clk})

	var mu sync.Mutex
	var events []string
	h, err := p.Start(context.Background(), time.Second, src.fetch,
		func(int) { mu.Lock(); events = append(events, "update"); mu.Unlock() },
		func(error) { mu.Lock(); events = append(events, "error"); mu.Unlock() },
	)
	require.NoError(t, err)

	const cycles = 6
	for i := 0; i < cycles; i++ {
		require.Equal(t, time.Second, waitParked(t, clk))
		if i < cycles-1 {
			require.Equal(t, 1, clk.Advance(time.Second))
		}
	}
	h.Cancel()
	waitDone(t, h)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"update", "error", "update", "error", "update", "error"}, events)
	require.Equal(t, cycles, src.count())
}

func TestPoller_CancelDuringWaitStopsFetching(t *testing.T) {
	clk := newFakeClock()
	src := &counter{}
	p := New[int](Options{Clock: clk})

	h, err := p.Start(context.Background(), 30*time.Second, src.fetch, nil, nil)
	require.NoError(t, err)
	waitParked(t, clk)
	require.Equal(t, 1, src.count())

	h.Cancel()
	waitDone(t, h)
	clk.Advance(time.Hour)
	require.Equal(t, 1, src.count(), "no fetch after cancel")
	require.False(t, p.Running())
}

func TestPoller_ResultAfterCancelIsDiscarded(t *testing.T) {
	clk := newFakeClock()
	p := New[string](Options{Clock: clk})

	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		close(entered)
		<-release
		return "stale", nil
	}

	var mu sync.Mutex
	var applied []string
	h, err := p.Start(context.Background(), time.Second, fetch,
		func(v string) { mu.Lock(); applied = append(applied, v); mu.Unlock() },
		func(error) { t.Error("onError must not run") },
	)
	require.NoError(t, err)

	<-entered
	h.Cancel()
	close(release)
	waitDone(t, h)

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, applied, "a result that arrives after cancel must not be applied")
}

func TestPoller_CancelWaitsForRunningCallback(t *testing.T) {
	clk := newFakeClock()
	src := &counter{}
	p := New[int](Options{Clock: clk})

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var applied []int
	h, err := p.Start(context.Background(), time.Second, src.fetch,
		func(v int) {
			if v == 1 {
				close(entered)
				<-release
			}
			mu.Lock()
			applied = append(applied, v)
			mu.Unlock()
		}, nil)
	require.NoError(t, err)

	<-entered
	cancelled := make(chan struct{})
	go func() {
		h.Cancel()
		close(cancelled)
	}()
	select {
	case <-cancelled:
		t.Fatal("Cancel returned while onUpdate was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not return after onUpdate finished")
	}
	clk.Advance(time.Hour)
	waitDone(t, h)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1}, applied, "no callback runs after Cancel returns")
	require.Equal(t, 1, src.count())
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	clk := newFakeClock()
	src := &counter{}
	p := New[int](Options{Clock: clk})
	ctx, cancel := context.WithCancel(context.Background())

	h, err := p.Start(ctx, time.Second, src.fetch, nil, nil)
	require.NoError(t, err)
	waitParked(t, clk)

	cancel()
	waitDone(t, h)
	require.True(t, h.Cancelled())
	require.Equal(t, 1, src.count())
}

func TestPoller_StartTwiceAndRestart(t *testing.T) {
	clk := newFakeClock()
	src := &counter{}
	p := New[int](Options{Clock: clk})

	h1, err := p.Start(context.Background(), time.Second, src.fetch, nil, nil)
	require.NoError(t, err)
	waitParked(t, clk)

	_, err = p.Start(context.Background(), time.Second, src.fetch, nil, nil)
	require.ErrorIs(t, err, ErrAlreadyPolling)

	h1.Cancel()
	h1.Wait()

	h2, err := p.Start(context.Background(), time.Second, src.fetch, nil, nil)
	require.NoError(t, err)
	require.NotSame(t, h1, h2)
	waitParked(t, clk)
	require.False(t, h2.Cancelled(), "a new handle does not inherit the old cancellation")
	h2.Cancel()
	waitDone(t, h2)
	require.Equal(t, 2, src.count())
}

func TestPoller_IndependentInstances(t *testing.T) {
	clk := newFakeClock()
	a, b := &counter{}, &counter{}
	pa := New[int](Options{Clock: clk, Name: "a"})
	pb := New[int](Options{Clock: clk, Name: "b"})

	ha, err := pa.Start(context.Background(), time.Second, a.fetch, nil, nil)
	require.NoError(t, err)
	hb, err := pb.Start(context.Background(), time.Second, b.fetch, nil, nil)
	require.NoError(t, err)
	waitParked(t, clk)
	waitParked(t, clk)

	ha.Cancel()
	waitDone(t, ha)

	clk.Advance(time.Second)
	waitParked(t, clk)
	require.Equal(t, 1, a.count())
	require.Equal(t, 2, b.count())
	hb.Cancel()
	waitDone(t, hb)
}

func TestPoller_DefaultInterval(t *testing.T) {
	clk := newFakeClock()
	p := New[int](Options{Clock: clk})
	h, err := p.Start(context.Background(), 0, (&counter{}).fetch, nil, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultInterval, waitParked(t, clk))
	h.Cancel()
	waitDone(t, h)
}

// A poller left running for 90 seconds with a 30 second interval issues three
// fetches, each at least 30 seconds after the previous one.
func TestPoller_NinetySecondsAtThirtySecondInterval(t *testing.T) {
	clk := newFakeClock()
	src := &counter{clock: clk}
	p := New[int](Options{Clock: clk})
	start := clk.Now()

	h, err := p.Start(context.Background(), 30*time.Second, src.fetch, nil, nil)
	require.NoError(t, err)
	waitParked(t, clk)

	for clk.Now().Sub(start) < 90*time.Second-time.Second {
		if clk.Advance(time.Second) > 0 {
			waitParked(t, clk)
		}
	}
	h.Cancel()
	waitDone(t, h)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.at, 3)
	for i := 1; i < len(src.at); i++ {
		require.GreaterOrEqual(t, src.at[i].Sub(src.at[i-1]), 30*time.Second)
	}
}

func TestPoller_RequiresFetch(t *testing.T) {
	_, err := New[int](Options{}).Start(context.Background(), time.Second, nil, nil, nil)
	require.Error(t, err)
}

func TestPoller_RealClock(t *testing.T) {
	var _ Clock = clock.New()

	src := &counter{}
	p := New[int](Options{})
	updates := make(chan int, 8)
	h, err := p.Start(context.Background(), 10*time.Millisecond, src.fetch, func(v int) { updates <- v }, nil)
	require.NoError(t, err)
	for want := 1; want <= 2; want++ {
		select {
		case got := <-updates:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("no update from real clock")
		}
	}
	h.Cancel()
	waitDone(t, h)
}
