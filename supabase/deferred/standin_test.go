package deferred

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderFor(backend any) *Loader {
	return NewLoader(Config{URL: "http://supabase.local"}, func(context.Context, Config) (any, error) {
		return backend, nil
	})
}

// resolved models an already settled asynchronous result.
type resolved struct {
	value any
	err   error
}

func (r resolved) Await(context.Context) (any, error) { return r.value, r.err }

// journal records calls in order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type stepper struct {
	name string
	log  *journal
	fail map[string]error
}

func (s *stepper) step(op string) (*stepper, error) {
	s.log.add(s.name + "." + op)
	if err := s.fail[op]; err != nil {
		return nil, err
	}
	return s, nil
}

func (s *stepper) A() (*stepper, error) { return s.step("A") }
func (s *stepper) B() (*stepper, error) { return s.step("B") }
func (s *stepper) C() (*stepper, error) { return s.step("C") }

type ctxBackend struct {
	Sub *ctxSub
}

type ctxSub struct {
	Label string
}

type ctxKey struct{}

func (b *ctxBackend) Lookup(ctx context.Context, key string) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v + ":" + key
}

func (b *ctxBackend) Sum(nums ...int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return total
}

func (b *ctxBackend) Explode() string {
	panic("kaboom")
}

func TestStandIn_ExtensionIsImmutable(t *testing.T) {
	base := NewStandIn(loaderFor(&ctxBackend{})).Call("From", "divers")

	a := base.Call("Select", "id")
	b := base.Call("Select", "name")
	c := a.Call("Limit", 1)

	assert.Equal(t, 1, base.Chain().Len())
	assert.Equal(t, 2, a.Chain().Len())
	assert.Equal(t, 2, b.Chain().Len())
	assert.Equal(t, 3, c.Chain().Len())

	assert.Equal(t, []any{"id"}, a.Chain().At(1).Args)
	assert.Equal(t, []any{"name"}, b.Chain().At(1).Args)
	assert.Equal(t, "From(divers).Select(id).Limit(1)", c.String())
	assert.Equal(t, "From(divers)", base.String())
}

func TestStandIn_ConcurrentBranching(t *testing.T) {
	base := NewStandIn(loaderFor(&ctxBackend{})).Call("From", "groups")

	const n = 50
	branches := make([]StandIn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			branches[i] = base.Call("Eq", "id", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, base.Chain().Len())
	for i, br := range branches {
		require.Equal(t, 2, br.Chain().Len())
		assert.Equal(t, []any{"id", i}, br.Chain().At(1).Args)
	}
}

func TestCallStep_CopiesArgs(t *testing.T) {
	args := []any{"a", "b"}
	step := NewCallStep("Select", args...)
	args[0] = "changed"
	assert.Equal(t, []any{"a", "b"}, step.Args)
	assert.Nil(t, NewCallStep("Single").Args)
}

func TestChain_StepsReturnsCopy(t *testing.T) {
	c := Chain{}.Append(NewCallStep("A")).Append(NewCallStep("B"))
	steps := c.Steps()
	steps[0] = NewCallStep("Z")
	assert.Equal(t, "A", c.At(0).Name)
	assert.Equal(t, "<backend>", Chain{}.String())
}

func TestResolve_EmptyChainYieldsBackend(t *testing.T) {
	backend := &ctxBackend{}
	v, err := NewStandIn(loaderFor(backend)).Await(context.Background())
	require.NoError(t, err)
	assert.Same(t, backend, v)
}

func TestResolve_ReplayOrder(t *testing.T) {
	log := &journal{}
	backend := map[string]any{
		"first":  &stepper{name: "first", log: log},
		"second": &stepper{name: "second", log: log},
	}
	root := NewStandIn(loaderFor(backend))

	var wg sync.WaitGroup
	for _, name := range []string{"first", "second"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := root.Get(name).Call("A").Call("B").Call("C").Await(context.Background())
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	for _, name := range []string{"first", "second"} {
		var own []string
		for _, c := range log.list() {
			if len(c) > len(name) && c[:len(name)] == name {
				own = append(own, c)
			}
		}
		assert.Equal(t, []string{name + ".A", name + ".B", name + ".C"}, own)
	}

	// Each chain's steps form one contiguous block.
	calls := log.list()
	require.Len(t, calls, 6)
	for i := 0; i < 6; i += 3 {
		prefix := calls[i][:len(calls[i])-1]
		assert.Equal(t, []string{prefix + "A", prefix + "B", prefix + "C"}, calls[i:i+3])
	}
}

// hangingBackend blocks Hang until release is closed.
type hangingBackend struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func (h *hangingBackend) Hang(ctx context.Context) string {
	close(h.entered)
	<-h.release
	h.ctxErr = ctx.Err()
	return "hung"
}

func (h *hangingBackend) Quick() string { return "quick" }

func TestResolve_SlowStepHoldsReplayLock(t *testing.T) {
	backend := &hangingBackend{entered: make(chan struct{}), release: make(chan struct{})}
	root := NewStandIn(loaderFor(backend))

	ctx, cancel := context.WithCancel(context.Background())
	slow := root.Call("Hang").Resolve(ctx)
	<-backend.entered
	cancel()

	quick := root.Call("Quick").Resolve(context.Background())
	select {
	case <-quick.Done():
		t.Fatal("a step of another chain ran while Hang held the replay lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	v, err := quick.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "quick", v)

	<-slow.Done()
	assert.NoError(t, backend.ctxErr, "steps run on a context detached from the caller")
}

func TestResolve_FailureShortCircuits(t *testing.T) {
	log := &journal{}
	cause := errors.New("stepA exploded")
	backend := &stepper{name: "s", log: log, fail: map[string]error{"A": cause}}

	_, err := NewStandIn(loaderFor(backend)).Call("A").Call("B").Await(context.Background())

	require.ErrorIs(t, err, ErrStepFailed)
	require.ErrorIs(t, err, cause)
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 0, serr.Index)
	assert.Equal(t, "A", serr.Step.Name)
	assert.Equal(t, []string{"s.A"}, log.list(), "B must never run")
}

func TestResolve_InjectsContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	v, err := NewStandIn(loaderFor(&ctxBackend{})).Call("Lookup", "divers").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1:divers", v)
}

func TestResolve_VariadicAndNumericConversion(t *testing.T) {
	v, err := NewStandIn(loaderFor(&ctxBackend{})).Call("Sum", 1, int64(2), 3.0).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, v)
}

func TestResolve_FieldAccess(t *testing.T) {
	backend := &ctxBackend{Sub: &ctxSub{Label: "equipment"}}
	v, err := NewStandIn(loaderFor(backend)).Get("Sub").Get("Label").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "equipment", v)
}

func TestResolve_NoSuchMember(t *testing.T) {
	_, err := NewStandIn(loaderFor(&ctxBackend{})).Call("Missing").Await(context.Background())
	require.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, ErrNoSuchMember)
}

func TestResolve_BadArguments(t *testing.T) {
	_, err := NewStandIn(loaderFor(&ctxBackend{})).Call("Lookup", 42).Await(context.Background())
	require.ErrorIs(t, err, ErrStepFailed)
	assert.Contains(t, err.Error(), "argument 1")

	_, err = NewStandIn(loaderFor(&ctxBackend{})).Call("Lookup", "a", "b").Await(context.Background())
	assert.ErrorIs(t, err, ErrStepFailed)
}

func TestResolve_PanicBecomesStepError(t *testing.T) {
	_, err := NewStandIn(loaderFor(&ctxBackend{})).Call("Explode").Await(context.Background())
	require.ErrorIs(t, err, ErrStepFailed)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestResolve_ReawaitReplaysAgain(t *testing.T) {
	var hits atomic.Int32
	backend := map[string]any{
		"touch": func() int32 { return hits.Add(1) },
	}
	s := NewStandIn(loaderFor(backend)).Call("touch")

	v1, err := s.Await(context.Background())
	require.NoError(t, err)
	v2, err := s.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), v1)
	assert.Equal(t, int32(2), v2)
}

func TestResolve_ScenarioFromDiversSelect(t *testing.T) {
	rows := []map[string]string{{"id": "1", "name": "Ann"}}
	var gotTable, gotColumns string
	backend := map[string]any{
		"from": func(table string) map[string]any {
			gotTable = table
			return map[string]any{
				"select": func(columns string) Awaitable {
					gotColumns = columns
					return resolved{value: rows}
				},
			}
		},
	}

	v, err := NewStandIn(loaderFor(backend)).Call("from", "divers").Call("select", "id,name").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rows, v)
	assert.Equal(t, "divers", gotTable)
	assert.Equal(t, "id,name", gotColumns)
}

func TestResolve_ScenarioSignInRejects(t *testing.T) {
	invalid := errors.New("invalid login credentials")
	backend := map[string]any{
		"auth": map[string]any{
			"signInWithPassword": func(creds map[string]string) Awaitable {
				return resolved{err: invalid}
			},
		},
	}

	fulfilled := make(chan any, 1)
	rejected := make(chan error, 1)
	NewStandIn(loaderFor(backend)).
		Get("auth").
		Call("signInWithPassword", map[string]string{"email": "ann@example.com", "password": "x"}).
		Then(func(v any) { fulfilled <- v }, func(err error) { rejected <- err })

	select {
	case err := <-rejected:
		assert.Same(t, invalid, err, "delegated rejection is forwarded unchanged")
	case v := <-fulfilled:
		t.Fatalf("fulfilled with %v, want rejection", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection")
	}
	select {
	case v := <-fulfilled:
		t.Fatalf("fulfillment callback invoked with %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFuture_AwaitHonorsContextButReplayCompletes(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	backend := map[string]any{
		"slow": func() string {
			<-release
			finished.Store(true)
			return "done"
		},
	}
	s := NewStandIn(loaderFor(backend)).Call("slow")

	ctx, cancel := context.WithCancel(context.Background())
	f := s.Resolve(ctx)
	cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.True(t, finished.Load())
}

func TestAwaitAs(t *testing.T) {
	n, err := AwaitAs[int](context.Background(), resolved{value: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = AwaitAs[string](context.Background(), resolved{value: 3})
	assert.Error(t, err)

	s, err := AwaitAs[string](context.Background(), resolved{})
	require.NoError(t, err)
	assert.Equal(t, "", s)

	_, err = AwaitAs[int](context.Background(), resolved{err: fmt.Errorf("nope")})
	assert.EqualError(t, err, "nope")
}
