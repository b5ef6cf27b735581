package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/benaskins/credstore/internal/keychain"
)

func newMemoryDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *keychain.MemoryStore) {
	t.Helper()
	mem := keychain.NewMemoryStore()
	d := New(keychain.Bind(mem), opts...)
	t.Cleanup(d.Close)
	return d, mem
}

func do(t *testing.T, d *Dispatcher, task Task) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := d.Do(ctx, task)
	if err != nil {
		t.Fatalf("Do(%v): %v", task, err)
	}
	return r
}

func TestDispatcherCompletions(t *testing.T) {
	d, _ := newMemoryDispatcher(t, WithWorkers(2))

	if r := do(t, d, SetTask("svc", "alice", "p1")); r.Err != nil || r.Value != nil {
		t.Fatalf("set = (%v, %v), want (nil, nil)", r.Err, r.Value)
	}
	if r := do(t, d, GetTask("svc", "alice")); r.Err != nil || r.Value != "p1" {
		t.Fatalf("get = (%v, %v), want (nil, p1)", r.Err, r.Value)
	}
	if r := do(t, d, FindSecretTask("svc")); r.Value != "p1" {
		t.Fatalf("find secret = %v, want p1", r.Value)
	}
	r := do(t, d, FindCredentialsTask("svc"))
	if creds := r.Credentials(); len(creds) != 1 || creds[0].Account != "alice" {
		t.Fatalf("find credentials = %+v", r.Value)
	}
	if r := do(t, d, DeleteTask("svc", "alice")); r.Err != nil || r.Value != true {
		t.Fatalf("delete = (%v, %v), want (nil, true)", r.Err, r.Value)
	}
}

func TestDispatcherNonFatalSentinels(t *testing.T) {
	d, _ := newMemoryDispatcher(t)

	tests := []struct {
		task Task
		want any
	}{
		{GetTask("svc", "nobody"), nil},
		{FindSecretTask("svc"), nil},
		{DeleteTask("svc", "nobody"), false},
	}
	for _, tt := range tests {
		r := do(t, d, tt.task)
		if r.Err != nil {
			t.Errorf("%v: unexpected error %v", tt.task, r.Err)
		}
		if r.Value != tt.want {
			t.Errorf("%v: value = %#v, want %#v", tt.task, r.Value, tt.want)
		}
		if r.Kind() != keychain.NonFatal {
			t.Errorf("%v: kind = %v", tt.task, r.Kind())
		}
	}

	r := do(t, d, FindCredentialsTask("svc"))
	creds, ok := r.Value.([]keychain.Credential)
	if !ok || creds == nil || len(creds) != 0 {
		t.Errorf("find credentials sentinel = %#v, want empty non-nil slice", r.Value)
	}
}

func TestDispatcherFatalCarriesMessage(t *testing.T) {
	d, mem := newMemoryDispatcher(t)
	mem.InjectFault(keychain.MethodGet, "User interaction is not allowed.")

	r := do(t, d, GetTask("svc", "alice"))
	if r.Value != nil {
		t.Errorf("fatal result must have no value, got %v", r.Value)
	}
	var fe *keychain.FatalError
	if !errors.As(r.Err, &fe) || fe.Message != "User interaction is not allowed." {
		t.Fatalf("err = %v, want FatalError with native message", r.Err)
	}
}

func TestDispatcherExactlyOneCompletionPerTask(t *testing.T) {
	d, mem := newMemoryDispatcher(t, WithWorkers(4))
	const n = 200
	for i := 0; i < n; i++ {
		mem.AddSecret("svc", fmt.Sprintf("user-%d", i), fmt.Sprintf("secret-%d", i), false)
	}

	var (
		mu    sync.Mutex
		calls = make(map[int]int)
		wg    sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		d.Schedule(GetTask("svc", fmt.Sprintf("user-%d", i)), func(r Result) {
			defer wg.Done()
			if got, _ := r.Secret(); got != fmt.Sprintf("secret-%d", i) {
				t.Errorf("task %d got %q: completion delivered to the wrong sink", i, got)
			}
			mu.Lock()
			calls[i]++
			mu.Unlock()
		})
	}
	wg.Wait()

	// Give any stray duplicate deliveries a chance to show up.
	d.Close()
	for i := 0; i < n; i++ {
		if calls[i] != 1 {
			t.Errorf("task %d completed %d times", i, calls[i])
		}
	}
}

func TestDispatcherScheduleReturnsTaskID(t *testing.T) {
	d, _ := newMemoryDispatcher(t)
	done := make(chan Result, 1)
	id := d.Schedule(GetTask("svc", "alice"), func(r Result) { done <- r })
	if id == "" {
		t.Fatal("expected a task ID")
	}
	if r := <-done; r.TaskID != id || r.Op != OpGet {
		t.Errorf("result = %+v, want task %s", r, id)
	}
}

func TestDispatcherScheduleAfterClose(t *testing.T) {
	d, _ := newMemoryDispatcher(t)
	d.Close()

	var got []Result
	d.Schedule(GetTask("svc", "alice"), func(r Result) { got = append(got, r) })
	if len(got) != 1 {
		t.Fatalf("expected one completion, got %d", len(got))
	}
	if !errors.Is(got[0].Err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", got[0].Err)
	}
	d.Close()
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{Store: keychain.Bind(keychain.NewMemoryStore()), block: block}
	d := New(store, WithWorkers(1))

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		d.Schedule(GetTask("svc", "alice"), func(Result) { completed.Add(1) })
	}
	close(block)
	d.Close()

	if completed.Load() != 5 {
		t.Errorf("expected all queued tasks to complete before Close returned, got %d", completed.Load())
	}
}

func TestDispatcherRecoversBackendPanic(t *testing.T) {
	d := New(panicStore{Store: keychain.Bind(keychain.NewMemoryStore())}, WithWorkers(1))
	t.Cleanup(d.Close)

	r := do(t, d, GetTask("svc", "alice"))
	var fe *keychain.FatalError
	if !errors.As(r.Err, &fe) {
		t.Fatalf("expected fatal result after panic, got %v", r.Err)
	}

	// The worker survives.
	if r := do(t, d, DeleteTask("svc", "alice")); r.Err != nil {
		t.Errorf("worker did not survive panic: %v", r.Err)
	}
}

func TestDispatcherDoHonoursContext(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{Store: keychain.Bind(keychain.NewMemoryStore()), block: block}
	d := New(store, WithWorkers(1))
	defer func() {
		close(block)
		d.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Do(ctx, GetTask("svc", "alice")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDispatcherDeliversThroughLoop(t *testing.T) {
	loop := NewLoop()
	d, _ := newMemoryDispatcher(t, WithDeliverer(loop))

	var ran atomic.Bool
	done := make(chan struct{})
	d.Schedule(SetTask("svc", "alice", "p1"), func(r Result) {
		ran.Store(true)
		close(done)
	})

	// Nothing runs until the owner drives the loop.
	deadline := time.Now().Add(5 * time.Second)
	for loop.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("completion never queued on the loop")
		}
		time.Sleep(time.Millisecond)
	}
	if ran.Load() {
		t.Fatal("callback ran before the loop was driven")
	}

	if n := loop.RunOnce(); n != 1 {
		t.Errorf("RunOnce ran %d callbacks, want 1", n)
	}
	<-done
}

func TestDispatcherRateLimit(t *testing.T) {
	d, _ := newMemoryDispatcher(t, WithWorkers(4), WithRateLimit(50, 1))

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		d.Schedule(GetTask("svc", "alice"), func(Result) { wg.Done() })
	}
	wg.Wait()

	// Six calls at 50/s with a burst of one take at least 100ms.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("rate limit not applied: %v", elapsed)
	}

	d.SetRateLimit(0, 0)
	if limit, burst := d.RateLimit(); limit != rate.Inf || burst != 1 {
		t.Errorf("RateLimit() = %v, %d; want Inf, 1", limit, burst)
	}
	start = time.Now()
	for i := 0; i < 20; i++ {
		do(t, d, GetTask("svc", "alice"))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("unlimited dispatcher was throttled: %v", elapsed)
	}
}

func TestDispatcherMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d, mem := newMemoryDispatcher(t, WithMetrics(m))

	do(t, d, SetTask("svc", "alice", "p1"))
	do(t, d, GetTask("svc", "alice"))
	do(t, d, GetTask("svc", "bob"))
	mem.InjectFault(keychain.MethodDelete, "denied")
	do(t, d, DeleteTask("svc", "alice"))

	if got := testutil.ToFloat64(m.TasksScheduled.WithLabelValues("get")); got != 2 {
		t.Errorf("scheduled get = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TasksCompleted.WithLabelValues("get", "success")); got != 1 {
		t.Errorf("completed get success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TasksCompleted.WithLabelValues("get", "nonfatal")); got != 1 {
		t.Errorf("completed get nonfatal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TasksCompleted.WithLabelValues("delete", "fatal")); got != 1 {
		t.Errorf("completed delete fatal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 0 {
		t.Errorf("queue depth = %v, want 0", got)
	}
}

func TestDispatcherSetRateBurst(t *testing.T) {
	d, _ := newMemoryDispatcher(t, WithRateLimit(10, 1))

	d.SetRateLimit(5, 4)
	if limit, burst := d.RateLimit(); limit != 5 || burst != 4 {
		t.Errorf("RateLimit() = %v, %d; want 5, 4", limit, burst)
	}

	d.SetRateLimit(5, -1)
	if _, burst := d.RateLimit(); burst != 1 {
		t.Errorf("burst = %d, want minimum of 1", burst)
	}
}

func TestDispatcherQueueDepthTracksPending(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{Store: keychain.Bind(keychain.NewMemoryStore()), block: block}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := New(store, WithWorkers(1), WithMetrics(m))

	var wg sync.WaitGroup
	wg.Add(6)
	sink := func(Result) { wg.Done() }

	// Park the only worker inside the store.
	d.Schedule(GetTask("svc", "alice"), sink)
	for i := 0; d.Pending() > 0 && i < 200; i++ {
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 5; i++ {
		d.Schedule(GetTask("svc", "alice"), sink)
	}
	if p := d.Pending(); p != 5 {
		t.Fatalf("Pending() = %d, want 5", p)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 5 {
		t.Errorf("queue depth = %v, want 5", got)
	}

	close(block)
	wg.Wait()
	d.Close()
	if got := testutil.ToFloat64(m.QueueDepth); got != 0 {
		t.Errorf("queue depth after drain = %v, want 0", got)
	}
}

func TestOpString(t *testing.T) {
	if OpFindCredentials.String() != "find_credentials" {
		t.Errorf("got %q", OpFindCredentials.String())
	}
	if Op(42).String() != "op(42)" {
		t.Errorf("got %q", Op(42).String())
	}
	if s := SetTask("svc", "alice", "hunter2").String(); s != "set svc/alice" {
		t.Errorf("task string = %q", s)
	}
}

type blockingStore struct {
	keychain.Store
	block chan struct{}
}

func (s *blockingStore) GetSecret(service, account string) (keychain.Outcome, string) {
	<-s.block
	return s.Store.GetSecret(service, account)
}

type panicStore struct {
	keychain.Store
}

func (panicStore) GetSecret(service, account string) (keychain.Outcome, string) {
	panic("native call crashed")
}
