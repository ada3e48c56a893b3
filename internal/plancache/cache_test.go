package plancache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/plan"
)

func testPlan(service string) *plan.QueryPlan {
	return plan.New(plan.NewFetch(&plan.Fetch{Service: service, Operation: "{me{id}}"}))
}

func newCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func waiters(c *Cache, sig Signature) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.pending[sig]; ok {
		return cl.waiters
	}
	return 0
}

func TestSignatureNormalizesFormatting(t *testing.T) {
	a := ComputeSignature("query Q { me { id name } }", "Q", "v1")
	b := ComputeSignature("query Q {\n  me {\n    id\n    name\n  }\n}\n", "Q", "v1")
	require.Equal(t, a, b)

	require.NotEqual(t, a, ComputeSignature("query Q { me { id name } }", "", "v1"))
	require.NotEqual(t, a, ComputeSignature("query Q { me { id name } }", "Q", "v2"))
	require.NotEqual(t, a, ComputeSignature("query Q { me { id } }", "Q", "v1"))
	require.Len(t, string(a), 16)

	// unparsable text still yields a stable signature
	require.Equal(t, ComputeSignature("{ me {", "", "v1"), ComputeSignature("{ me {", "", "v1"))
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newCache(t, Options{Size: 8})
	sig := ComputeSignature("{ me { id } }", "", "v1")
	release := make(chan struct{})
	var calls atomic.Int32
	planned := testPlan("accounts")
	fn := func(ctx context.Context) (*plan.QueryPlan, error) {
		calls.Add(1)
		<-release
		return planned, nil
	}

	const n = 32
	results := make([]*plan.QueryPlan, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrPlan(context.Background(), sig, fn)
		}(i)
	}
	require.Eventually(t, func() bool { return waiters(c, sig) == n }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i, p := range results {
		require.NoError(t, errs[i])
		require.Same(t, planned, p)
	}
	require.Equal(t, 0, c.Pending())

	// subsequent lookups are plain hits
	p, err := c.GetOrPlan(context.Background(), sig, fn)
	require.NoError(t, err)
	require.Same(t, planned, p)
	require.Equal(t, int32(1), calls.Load())
}

func TestFailuresReachAllWaitersAndAreNotCached(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newCache(t, Options{})
	sig := Signature("sig")
	boom := errors.New("cannot plan")
	release := make(chan struct{})
	var calls atomic.Int32
	failing := func(context.Context) (*plan.QueryPlan, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.GetOrPlan(context.Background(), sig, failing)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return waiters(c, sig) == 2 }, time.Second, time.Millisecond)
	close(release)
	require.ErrorIs(t, <-errs, boom)
	require.ErrorIs(t, <-errs, boom)
	require.Equal(t, 0, c.Len())

	p, err := c.GetOrPlan(context.Background(), sig, func(context.Context) (*plan.QueryPlan, error) {
		calls.Add(1)
		return testPlan("a"), nil
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, int32(2), calls.Load())
}

func TestHitsDoNotWaitForPendingPlanning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newCache(t, Options{})
	cached := testPlan("a")
	_, err := c.GetOrPlan(context.Background(), "hot", func(context.Context) (*plan.QueryPlan, error) { return cached, nil })
	require.NoError(t, err)

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetOrPlan(context.Background(), "cold", func(context.Context) (*plan.QueryPlan, error) {
			<-release
			return testPlan("b"), nil
		})
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	p, err := c.GetOrPlan(context.Background(), "hot", nil)
	require.NoError(t, err)
	require.Same(t, cached, p)

	close(release)
	<-done
}

func TestWaiterCanAbandonWithoutCancellingPlanning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newCache(t, Options{})
	release := make(chan struct{})
	var plannerCancelled atomic.Bool
	fn := func(ctx context.Context) (*plan.QueryPlan, error) {
		<-release
		plannerCancelled.Store(ctx.Err() != nil)
		return testPlan("a"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.GetOrPlan(ctx, "sig", fn)
		errc <- err
	}()
	require.Eventually(t, func() bool { return waiters(c, "sig") == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)
	require.False(t, plannerCancelled.Load())
}

func TestPlannerPanicBecomesError(t *testing.T) {
	c := newCache(t, Options{})
	_, err := c.GetOrPlan(context.Background(), "sig", func(context.Context) (*plan.QueryPlan, error) {
		panic("planner bug")
	})
	require.ErrorContains(t, err, "planner bug")

	_, err = c.GetOrPlan(context.Background(), "nil", func(context.Context) (*plan.QueryPlan, error) { return nil, nil })
	require.ErrorIs(t, err, ErrNoPlan)
	require.Equal(t, 0, c.Len())
}

func TestLeastRecentlyUsedEviction(t *testing.T) {
	c := newCache(t, Options{Size: 2})
	planFor := func(s string) PlanFunc {
		return func(context.Context) (*plan.QueryPlan, error) { return testPlan(s), nil }
	}
	ctx := context.Background()
	for _, s := range []string{"a", "b"} {
		_, err := c.GetOrPlan(ctx, Signature(s), planFor(s))
		require.NoError(t, err)
	}
	// touch a so b becomes the eviction candidate
	_, err := c.GetOrPlan(ctx, "a", nil)
	require.NoError(t, err)
	_, err = c.GetOrPlan(ctx, "c", planFor("c"))
	require.NoError(t, err)

	require.Equal(t, 2, c.Len())
	_, ok := c.Peek("b")
	require.False(t, ok)
	_, ok = c.Peek("a")
	require.True(t, ok)
}

func TestTierHitSkipsPlanner(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tier := NewMemoryTier(time.Minute, time.Minute)
	defer tier.Close()
	encoded, err := testPlan("shared").MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, tier.Set(context.Background(), "fedgate:plan:sig", encoded, 0))

	bus := eventbus.New()
	var sources []events.PlanSource
	eventbus.SubscribeTo(bus, func(_ context.Context, e events.PlanLookup) { sources = append(sources, e.Source) })
	eventbus.Use(bus)
	defer eventbus.Use(nil)

	c := newCache(t, Options{Tier: tier})
	var calls atomic.Int32
	p, err := c.GetOrPlan(context.Background(), "sig", func(context.Context) (*plan.QueryPlan, error) {
		calls.Add(1)
		return testPlan("local"), nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(0), calls.Load())
	require.Equal(t, "shared", p.Root.Fetch.Service)

	_, err = c.GetOrPlan(context.Background(), "sig", nil)
	require.NoError(t, err)
	require.Equal(t, []events.PlanSource{events.PlanFromTier, events.PlanFromLocal}, sources)
}

func TestPlannedPlansAreWrittenToTier(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tier := NewMemoryTier(time.Minute, time.Minute)
	defer tier.Close()
	c := newCache(t, Options{Tier: tier, TierPrefix: "gw:"})
	_, err := c.GetOrPlan(context.Background(), "sig", func(context.Context) (*plan.QueryPlan, error) { return testPlan("a"), nil })
	require.NoError(t, err)

	raw, err := tier.Get(context.Background(), "gw:sig")
	require.NoError(t, err)
	p, err := plan.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "a", p.Root.Fetch.Service)
}

type brokenTier struct{ gets, sets atomic.Int32 }

func (b *brokenTier) Get(context.Context, string) ([]byte, error) {
	b.gets.Add(1)
	return nil, errors.New("connection refused")
}

func (b *brokenTier) Set(context.Context, string, []byte, time.Duration) error {
	b.sets.Add(1)
	return errors.New("connection refused")
}

func TestTierFailuresDegradeToLocalCaching(t *testing.T) {
	tier := &brokenTier{}
	c := newCache(t, Options{Tier: tier})
	var calls atomic.Int32
	fn := func(context.Context) (*plan.QueryPlan, error) {
		calls.Add(1)
		return testPlan("a"), nil
	}
	for i := 0; i < 3; i++ {
		p, err := c.GetOrPlan(context.Background(), "sig", fn)
		require.NoError(t, err)
		require.NotNil(t, p)
	}
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int32(1), tier.gets.Load())
	require.Equal(t, int32(1), tier.sets.Load())
}

func TestMemoryTierExpiry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tier := NewMemoryTier(time.Minute, 10*time.Millisecond)
	defer tier.Close()
	ctx := context.Background()

	_, err := tier.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, tier.Set(ctx, "short", []byte("x"), 20*time.Millisecond))
	got, err := tier.Get(ctx, "short")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)

	require.Eventually(t, func() bool { return tier.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, err = tier.Get(ctx, "short")
	require.ErrorIs(t, err, ErrMiss)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, tier.Set(cancelled, "k", []byte("v"), 0))
}
