package gpu

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSwapper counts calls and optionally delays or fails loads.
type fakeSwapper struct {
	mu        sync.Mutex
	unloads   []string
	loads     []string
	loadDelay time.Duration
	loadErr   error
	unloadErr error
}

func (f *fakeSwapper) Unload(ctx context.Context, model string) error {
	f.mu.Lock()
	f.unloads = append(f.unloads, model)
	f.mu.Unlock()
	return f.unloadErr
}

func (f *fakeSwapper) Load(ctx context.Context, model string, numCtx int) error {
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.loads = append(f.loads, model)
	f.mu.Unlock()
	return f.loadErr
}

func (f *fakeSwapper) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeSwapper) unloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unloads)
}

func testModels() map[Class]ModelSpec {
	return map[Class]ModelSpec{
		ClassLLM: {Name: "qwen3:30b", NumCtx: 16384},
		ClassVLM: {Name: "qwen3-vl:14b", NumCtx: 16384},
	}
}

func newTestScheduler(sw Swapper, budget time.Duration) *Scheduler {
	return NewScheduler(sw, testModels(), budget, slog.New(slog.DiscardHandler))
}

// TestAcquireColdLoadsModel tests that the first acquire loads the model.
func TestAcquireColdLoadsModel(t *testing.T) {
	sw := &fakeSwapper{}
	sched := newTestScheduler(sw, time.Second)

	res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	defer res.Release()

	if res.Model != "qwen3:30b" {
		t.Errorf("expected model qwen3:30b, got %q", res.Model)
	}
	if sw.loadCount() != 1 {
		t.Errorf("expected 1 load, got %d", sw.loadCount())
	}
	if sw.unloadCount() != 0 {
		t.Errorf("cold slot should not unload anything, got %d unloads", sw.unloadCount())
	}
}

// TestWarmAcquireSkipsSwap tests the same-class fast path: after release the
// model stays warm and re-acquiring performs no swapper calls.
func TestWarmAcquireSkipsSwap(t *testing.T) {
	sw := &fakeSwapper{}
	sched := newTestScheduler(sw, time.Second)

	res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("first Acquire() failed: %v", err)
	}
	res.Release()

	before := sw.loadCount()
	res2, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("warm Acquire() failed: %v", err)
	}
	res2.Release()

	if got := sw.loadCount() - before; got != 0 {
		t.Errorf("warm acquire should perform zero loads, got %d", got)
	}
	if sw.unloadCount() != 0 {
		t.Errorf("warm acquire should perform zero unloads, got %d", sw.unloadCount())
	}
}

// TestClassChangeSwaps tests that acquiring the other class unloads then loads.
func TestClassChangeSwaps(t *testing.T) {
	sw := &fakeSwapper{}
	sched := newTestScheduler(sw, time.Second)

	res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire(llm) failed: %v", err)
	}
	res.Release()

	res2, err := sched.Acquire(context.Background(), DefaultSlot, ClassVLM)
	if err != nil {
		t.Fatalf("Acquire(vlm) failed: %v", err)
	}
	res2.Release()

	if sw.unloadCount() != 1 {
		t.Fatalf("expected 1 unload, got %d", sw.unloadCount())
	}
	if sw.unloads[0] != "qwen3:30b" {
		t.Errorf("expected llm model unloaded, got %q", sw.unloads[0])
	}
	if sw.loadCount() != 2 {
		t.Errorf("expected 2 loads, got %d", sw.loadCount())
	}
	if sched.Resident(DefaultSlot) != ClassVLM {
		t.Errorf("expected vlm resident, got %q", sched.Resident(DefaultSlot))
	}
}

// TestUnloadFailureIsIgnored tests that a failed eviction does not fail the acquire.
func TestUnloadFailureIsIgnored(t *testing.T) {
	sw := &fakeSwapper{unloadErr: errors.New("server busy")}
	sched := newTestScheduler(sw, time.Second)

	res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire(llm) failed: %v", err)
	}
	res.Release()

	res2, err := sched.Acquire(context.Background(), DefaultSlot, ClassVLM)
	if err != nil {
		t.Fatalf("Acquire(vlm) should succeed despite unload failure: %v", err)
	}
	res2.Release()
}

// TestSwapTimeout tests that a slow load fails the acquisition with
// ErrSwapTimeout and leaves the slot usable.
func TestSwapTimeout(t *testing.T) {
	sw := &fakeSwapper{loadDelay: 200 * time.Millisecond}
	sched := newTestScheduler(sw, 20*time.Millisecond)

	_, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if !errors.Is(err, ErrSwapTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrSwapTimeout", err)
	}

	// The slot must not stay held after a failed swap.
	sw.loadDelay = 0
	res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire() after swap timeout failed: %v", err)
	}
	res.Release()
}

// TestMutualExclusion tests that two holders never overlap on one slot.
func TestMutualExclusion(t *testing.T) {
	sw := &fakeSwapper{}
	sched := newTestScheduler(sw, time.Second)

	var holders atomic.Int32
	var maxHolders atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		class := ClassLLM
		if i%2 == 1 {
			class = ClassVLM
		}
		go func(c Class) {
			defer wg.Done()
			res, err := sched.Acquire(context.Background(), DefaultSlot, c)
			if err != nil {
				t.Errorf("Acquire(%s) failed: %v", c, err)
				return
			}
			n := holders.Add(1)
			for {
				m := maxHolders.Load()
				if n <= m || maxHolders.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			res.Release()
		}(class)
	}
	wg.Wait()

	if maxHolders.Load() != 1 {
		t.Errorf("expected at most 1 concurrent holder, observed %d", maxHolders.Load())
	}
}

// TestFIFOOrder tests that waiters are granted in arrival order.
func TestFIFOOrder(t *testing.T) {
	sw := &fakeSwapper{}
	sched := newTestScheduler(sw, time.Second)

	first, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
			if err != nil {
				t.Errorf("waiter %d failed: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			res.Release()
		}(i)
		// Serialize enqueue so arrival order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	first.Release()
	wg.Wait()

	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("waiters granted out of FIFO order: %v", order)
		}
	}
}

// TestAcquireCancellationWhileWaiting tests that a cancelled waiter returns
// promptly without disturbing the queue.
func TestAcquireCancellationWhileWaiting(t *testing.T) {
	sw := &fakeSwapper{}
	sched := newTestScheduler(sw, time.Second)

	holder, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := sched.Acquire(ctx, DefaultSlot, ClassLLM)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled waiter error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	// The queue must still work after a waiter departed.
	holder.Release()
	res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire() after cancellation failed: %v", err)
	}
	res.Release()
}

// TestReleaseIdempotent tests that double release does not corrupt the slot.
func TestReleaseIdempotent(t *testing.T) {
	sw := &fakeSwapper{}
	sched := newTestScheduler(sw, time.Second)

	res, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	res.Release()
	res.Release()

	res2, err := sched.Acquire(context.Background(), DefaultSlot, ClassLLM)
	if err != nil {
		t.Fatalf("Acquire() after double release failed: %v", err)
	}
	res2.Release()
}

// TestAcquireRejectsNoneClass tests that class none never passes through.
func TestAcquireRejectsNoneClass(t *testing.T) {
	sched := newTestScheduler(&fakeSwapper{}, time.Second)

	if _, err := sched.Acquire(context.Background(), DefaultSlot, ClassNone); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("Acquire(none) error = %v, want ErrUnknownClass", err)
	}
}

// TestAcquireUnknownSlot tests unknown slot rejection.
func TestAcquireUnknownSlot(t *testing.T) {
	sched := newTestScheduler(&fakeSwapper{}, time.Second)

	if _, err := sched.Acquire(context.Background(), "gpu7", ClassLLM); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("Acquire(gpu7) error = %v, want ErrUnknownSlot", err)
	}
}
