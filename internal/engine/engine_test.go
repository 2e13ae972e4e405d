package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/modelmux/internal/backend"
	"github.com/allaspectsdev/modelmux/internal/health"
	"github.com/allaspectsdev/modelmux/internal/router"
	"github.com/allaspectsdev/modelmux/internal/testutil"
)

func newEngine(t *testing.T, opts Options, pairs ...testutil.Pair) *Engine {
	t.Helper()
	opts.Logger = zerolog.Nop()
	e, err := New(testutil.NewRegistry(t, pairs...), opts)
	require.NoError(t, err)
	return e
}

func pair(b *testutil.FakeBackend) testutil.Pair {
	return testutil.Pair{Descriptor: testutil.Descriptor(b.ID, router.SpeedFast), Backend: b}
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}

func TestAcceptQuery_SingleBackend(t *testing.T) {
	only := &testutil.FakeBackend{ID: "only"}
	e := newEngine(t, Options{}, testutil.Pair{
		Descriptor: testutil.Descriptor("only", router.SpeedFast, router.TagSpeed),
		Backend:    only,
	})

	resp, err := e.AcceptQuery(context.Background(), "show me the list of items", nil)
	require.NoError(t, err)

	assert.Equal(t, "ok from only", resp.Text)
	assert.False(t, resp.Metadata.Degraded)
	assert.Equal(t, "only", resp.Metadata.Backend)
	assert.Equal(t, 1, resp.Metadata.Attempts)
	assert.Equal(t, router.ComplexityLow, resp.Metadata.Analysis.Complexity)
	assert.NotEmpty(t, resp.Metadata.QueryID)
	assert.False(t, math.IsInf(resp.Metadata.Scores["only"], 0))
	assert.Equal(t, []State{StateReceived, StateAnalyzed, StateSelected, StateDispatched, StateSucceeded}, resp.Metadata.States)
}

func TestAcceptQuery_EmptyQuery(t *testing.T) {
	e := newEngine(t, Options{}, pair(&testutil.FakeBackend{ID: "a"}))

	for _, q := range []string{"", "   \n\t"} {
		resp, err := e.AcceptQuery(context.Background(), q, nil)
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.Nil(t, resp)
	}
}

func TestAcceptQuery_SkipsUnhealthy(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a"}
	b := &testutil.FakeBackend{ID: "b"}
	book := health.NewBook("a", "b")
	book.MarkUnhealthy("a", errors.New("probe failed"))
	e := newEngine(t, Options{Health: book}, pair(a), pair(b))

	for _, q := range []string{"list items", "analyze and compare the trends", "why did revenue drop"} {
		resp, err := e.AcceptQuery(context.Background(), q, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", resp.Metadata.Backend)
	}
	assert.Zero(t, a.Calls())
}

func TestAcceptQuery_CascadesOnTimeout(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a", Hang: true}
	b := &testutil.FakeBackend{ID: "b"}
	e := newEngine(t, Options{
		Timeouts: map[string]time.Duration{"a": 50 * time.Millisecond},
	}, pair(a), pair(b))

	resp, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)

	assert.Equal(t, "b", resp.Metadata.Backend)
	assert.Equal(t, 2, resp.Metadata.Attempts)
	assert.Equal(t, []State{
		StateReceived, StateAnalyzed,
		StateSelected, StateDispatched, StateFailed, StateRetrySelect,
		StateSelected, StateDispatched, StateSucceeded,
	}, resp.Metadata.States)

	ra, ok := e.tracker.Get("a")
	require.True(t, ok)
	assert.Less(t, ra.SuccessRate, 1.0)
	assert.EqualValues(t, 1, ra.TotalRequests)

	rb, ok := e.tracker.Get("b")
	require.True(t, ok)
	assert.EqualValues(t, 1, rb.TotalRequests)
	assert.Equal(t, 1.0, rb.SuccessRate)
}

func TestDispatch_ClassifiesTimeout(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a", Hang: true}
	e := newEngine(t, Options{DispatchTimeout: 20 * time.Millisecond}, pair(a))

	_, err := e.dispatch(context.Background(), "a", "q", 1, false)
	assert.ErrorIs(t, err, ErrBackendTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "a", de.BackendID)
}

func TestDispatch_ClassifiesBackendError(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a", Fail: true}
	e := newEngine(t, Options{}, pair(a))

	_, err := e.dispatch(context.Background(), "a", "q", 1, false)
	assert.ErrorIs(t, err, ErrBackendError)
	assert.ErrorIs(t, err, testutil.ErrFake)
}

type panicBackend struct{}

func (panicBackend) Name() string { return "boom" }

func (panicBackend) Execute(context.Context, string, string, backend.Budget) (string, error) {
	panic("kaboom")
}

func TestDispatch_RecoversPanic(t *testing.T) {
	b := &testutil.FakeBackend{ID: "b"}
	e := newEngine(t, Options{},
		testutil.Pair{Descriptor: testutil.Descriptor("boom", router.SpeedVeryFast), Backend: panicBackend{}},
		pair(b),
	)

	resp, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Metadata.Backend)
	assert.Zero(t, e.balancer.InFlight("boom"))
}

func TestAcceptQuery_AllUnhealthyDegrades(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a"}
	b := &testutil.FakeBackend{ID: "b"}
	book := health.NewBook("a", "b")
	book.MarkUnhealthy("a", errors.New("down"))
	book.MarkUnhealthy("b", errors.New("down"))
	e := newEngine(t, Options{Health: book}, pair(a), pair(b))

	resp, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)

	assert.True(t, resp.Metadata.Degraded)
	assert.Equal(t, ReasonUnavailable, resp.Metadata.Reason)
	assert.NotEmpty(t, resp.Text)
	assert.Zero(t, resp.Metadata.Attempts)
	assert.Equal(t, []State{StateReceived, StateAnalyzed, StateFallbackError}, resp.Metadata.States)
	assert.Zero(t, a.Calls()+b.Calls())
}

func TestAcceptQuery_AllFailDegrades(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a", Fail: true}
	b := &testutil.FakeBackend{ID: "b", Fail: true}
	c := &testutil.FakeBackend{ID: "c", Fail: true}
	e := newEngine(t, Options{}, pair(a), pair(b), pair(c))

	resp, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)

	assert.True(t, resp.Metadata.Degraded)
	assert.Equal(t, ReasonExhausted, resp.Metadata.Reason)
	assert.Equal(t, 3, resp.Metadata.Attempts)
	assert.NotContains(t, resp.Text, testutil.ErrFake.Error())
	assert.EqualValues(t, 1, a.Calls())
	assert.EqualValues(t, 1, b.Calls())
	assert.EqualValues(t, 1, c.Calls())

	states := resp.Metadata.States
	assert.Equal(t, StateFallbackError, states[len(states)-1])
	assert.True(t, states[len(states)-1].Terminal())
}

func TestAcceptQuery_CallerCancelled(t *testing.T) {
	started := make(chan struct{}, 1)
	a := &testutil.FakeBackend{ID: "a", Hang: true, Started: started}
	e := newEngine(t, Options{}, pair(a))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Response, 1)
	go func() {
		resp, err := e.AcceptQuery(ctx, "list items", nil)
		assert.NoError(t, err)
		done <- resp
	}()

	<-started
	assert.EqualValues(t, 1, e.balancer.InFlight("a"))
	cancel()

	select {
	case resp := <-done:
		assert.True(t, resp.Metadata.Degraded)
		assert.Equal(t, ReasonCancelled, resp.Metadata.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("AcceptQuery did not return after cancellation")
	}
	assert.Zero(t, e.balancer.InFlight("a"))

	r, ok := e.tracker.Get("a")
	require.True(t, ok)
	assert.EqualValues(t, 0, r.SuccessfulRequests)
}

func TestAcceptQuery_ConcurrentLoadReturnsToZero(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a", Delay: 20 * time.Millisecond}
	e := newEngine(t, Options{}, pair(a))

	const n = 100
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := "list items"
			if i%2 == 0 {
				q = "analyze the trend"
			}
			resp, err := e.AcceptQuery(context.Background(), q, nil)
			assert.NoError(t, err)
			assert.False(t, resp.Metadata.Degraded)
		}()
	}
	wg.Wait()

	stats := e.balancer.Stats()["a"]
	assert.Zero(t, stats.InFlight)
	assert.LessOrEqual(t, stats.Peak, int64(n))
	assert.Positive(t, stats.Peak)
	assert.EqualValues(t, n, stats.Total)
	assert.EqualValues(t, n, a.Calls())
}

func TestAcceptQuery_ConcurrentFailuresReleaseSlots(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a", Delay: 5 * time.Millisecond, Fail: true}
	e := newEngine(t, Options{}, pair(a))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.AcceptQuery(context.Background(), "list items", nil)
		}()
	}
	wg.Wait()

	assert.Zero(t, e.balancer.InFlight("a"))
	r, _ := e.tracker.Get("a")
	assert.EqualValues(t, 100, r.TotalRequests)
	assert.Zero(t, r.SuccessRate)
}

func TestAcceptQuery_PassesPromptAndBudget(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a"}
	d := testutil.Descriptor("a", router.SpeedFast)
	d.MaxOutputTokens = 777
	e := newEngine(t, Options{SystemPrompt: "be brief"}, testutil.Pair{Descriptor: d, Backend: a})

	_, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)
	assert.Equal(t, "be brief", a.LastPrompt())
	assert.Equal(t, 777, a.LastBudget().MaxOutputTokens)
}

func TestAcceptQuery_RoutesByAnalysis(t *testing.T) {
	deep := &testutil.FakeBackend{ID: "deep"}
	quick := &testutil.FakeBackend{ID: "quick"}
	e := newEngine(t, Options{},
		testutil.Pair{Descriptor: testutil.Descriptor("deep", router.SpeedSlow, router.TagReasoning, router.TagAnalysis), Backend: deep},
		testutil.Pair{Descriptor: testutil.Descriptor("quick", router.SpeedVeryFast, router.TagSpeed), Backend: quick},
	)

	resp, err := e.AcceptQuery(context.Background(), "explain why the pipeline conversion dropped and recommend a strategy", nil)
	require.NoError(t, err)
	assert.Equal(t, "deep", resp.Metadata.Backend)

	resp, err = e.AcceptQuery(context.Background(), "show me the list of candidates", nil)
	require.NoError(t, err)
	assert.Equal(t, "quick", resp.Metadata.Backend)
}

func TestAcceptQuery_BreakerSkipsTrippedBackend(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a", Fail: true}
	b := &testutil.FakeBackend{ID: "b"}
	e := newEngine(t, Options{Breakers: NewBreakerSet(1, time.Hour, 1)}, pair(a), pair(b))

	resp, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Metadata.Backend)
	assert.Equal(t, "open", e.SystemStats().Breakers["a"])

	resp, err = e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Metadata.Backend)
	assert.Equal(t, 1, resp.Metadata.Attempts)
	assert.EqualValues(t, 1, a.Calls())

	// Health is untouched by the breaker.
	assert.True(t, e.Health().IsHealthy("a"))
}

func TestAcceptQuery_RateLimitedBackendSkipped(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a"}
	b := &testutil.FakeBackend{ID: "b"}
	limits := NewLimiterSet(LimitSpec{Rate: 1000, Burst: 1000}, map[string]LimitSpec{"a": {Rate: 0.001, Burst: 1}})
	e := newEngine(t, Options{Limiters: limits}, pair(a), pair(b))

	resp, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Metadata.Backend)

	resp, err = e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Metadata.Backend)
	assert.EqualValues(t, 1, a.Calls())
}

func TestAcceptQuery_AdmissionWaitHonoursContext(t *testing.T) {
	started := make(chan struct{}, 1)
	a := &testutil.FakeBackend{ID: "a", Hang: true, Started: started}
	e := newEngine(t, Options{MaxConcurrent: 1}, pair(a))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	go func() { _, _ = e.AcceptQuery(firstCtx, "list items", nil) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	resp, err := e.AcceptQuery(ctx, "list items", nil)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Degraded)
	assert.Equal(t, ReasonCancelled, resp.Metadata.Reason)
	assert.Zero(t, resp.Metadata.Attempts)
}

func TestProbe(t *testing.T) {
	good := &testutil.FakeBackend{ID: "good"}
	bad := &testutil.FakeBackend{ID: "bad", Fail: true}
	e := newEngine(t, Options{ProbeQuery: "health check", Breakers: NewBreakerSet(1, time.Hour, 1)}, pair(good), pair(bad))

	require.NoError(t, e.Probe(context.Background(), "good"))
	assert.Equal(t, []string{"health check"}, good.Queries())

	err := e.Probe(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrBackendError)

	// Probes are recorded in performance history but never trip breakers.
	r, ok := e.tracker.Get("bad")
	require.True(t, ok)
	assert.EqualValues(t, 1, r.TotalRequests)
	assert.Equal(t, BreakerClosed, e.breakers.Get("bad").State())

	assert.ErrorIs(t, e.Probe(context.Background(), "missing"), ErrBackendUnavailable)
}

func TestProbe_DrivesHealthMonitor(t *testing.T) {
	good := &testutil.FakeBackend{ID: "good"}
	bad := &testutil.FakeBackend{ID: "bad", Fail: true}
	book := health.NewBook("bad", "good")
	e := newEngine(t, Options{Health: book}, pair(bad), pair(good))

	m := health.NewMonitor(book, e.Registry().IDs(), e.Probe, health.MonitorConfig{
		Interval: time.Hour, Timeout: time.Second, Concurrency: 2,
	}, zerolog.Nop())
	m.Sweep(context.Background())

	assert.False(t, book.IsHealthy("bad"))
	assert.True(t, book.IsHealthy("good"))

	resp, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Metadata.Backend)
	assert.EqualValues(t, 1, bad.Calls())
}

func TestSystemStats(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a"}
	b := &testutil.FakeBackend{ID: "b"}
	e := newEngine(t, Options{}, pair(a), pair(b))

	_, err := e.AcceptQuery(context.Background(), "list items", nil)
	require.NoError(t, err)

	s := e.SystemStats()
	require.Len(t, s.Backends, 2)
	assert.Equal(t, "a", s.Backends[0].ID)
	assert.Contains(t, s.Performance, "a")
	assert.Contains(t, s.Performance, "b")
	assert.EqualValues(t, 0, s.Performance["b"].TotalRequests)
	assert.Equal(t, health.StatusHealthy, s.Health["b"].Status)
	assert.Zero(t, s.Load["a"].InFlight)
	assert.EqualValues(t, 1, s.Load["a"].Total)
	assert.Nil(t, s.Breakers)
	assert.Equal(t, "pair", s.Smoothing)
	assert.Equal(t, router.DefaultWeights(), s.Weights)
}

func TestSetWeights(t *testing.T) {
	a := &testutil.FakeBackend{ID: "a"}
	e := newEngine(t, Options{}, pair(a))

	w := router.DefaultWeights()
	w.LoadPenalty = 99
	e.SetWeights(w)
	assert.Equal(t, 99.0, e.Weights().LoadPenalty)
	assert.Equal(t, 99.0, e.SystemStats().Weights.LoadPenalty)
}
