package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/benaskins/credstore/internal/keychain"
)

// ErrClosed is the error delivered for tasks scheduled after Close.
var ErrClosed = errors.New("dispatcher is closed")

type job struct {
	task     Task
	sink     func(Result)
	deliver  Deliverer
	enqueued time.Time
}

// Dispatcher runs tasks against a store on a pool of worker goroutines.
// The queue is unbounded, so Schedule never blocks. Tasks run in no
// particular order relative to each other.
type Dispatcher struct {
	store   keychain.Store
	deliver Deliverer
	limiter *rate.Limiter
	metrics *Metrics
	logger  *slog.Logger
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of worker goroutines. Zero or less keeps the
// default of one per CPU.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDeliverer sets where completions run. The default is Direct.
func WithDeliverer(del Deliverer) Option {
	return func(d *Dispatcher) {
		if del != nil {
			d.deliver = del
		}
	}
}

// WithRateLimit caps native calls per second across all workers. A limit
// of zero or less means unlimited.
func WithRateLimit(limit float64, burst int) Option {
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(toLimit(limit), max(burst, 1))
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func toLimit(limit float64) rate.Limit {
	if limit <= 0 {
		return rate.Inf
	}
	return rate.Limit(limit)
}

// New starts a dispatcher over store.
func New(store keychain.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		deliver: Direct,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  slog.With("component", "dispatch"),
		workers: max(runtime.NumCPU(), 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.worker()
	}
	d.logger.Debug("dispatcher started", "workers", d.workers, "rate_limit", float64(d.limiter.Limit()))
	return d
}

// Schedule queues a task and returns its ID. sink is called exactly once,
// through the dispatcher's Deliverer, with the task's Result.
func (d *Dispatcher) Schedule(t Task, sink func(Result)) string {
	return d.schedule(t, sink, d.deliver)
}

func (d *Dispatcher) schedule(t Task, sink func(Result), del Deliverer) string {
	t.ID = uuid.NewString()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("task scheduled after close", "task", t.ID, "op", t.Op)
		res := failed(t, ErrClosed)
		del.Deliver(func() { sink(res) })
		return t.ID
	}
	d.queue = append(d.queue, job{task: t, sink: sink, deliver: del, enqueued: time.Now()})
	d.metrics.scheduled(t.Op, len(d.queue))
	d.cond.Signal()
	d.mu.Unlock()
	return t.ID
}

// Do runs a task and waits for its result. The completion is delivered
// on the worker, not through the dispatcher's Deliverer. Cancelling ctx
// stops the wait, not the task.
func (d *Dispatcher) Do(ctx context.Context, t Task) (Result, error) {
	ch := make(chan Result, 1)
	d.schedule(t, func(r Result) { ch <- r }, Direct)
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// SetRateLimit changes the native call rate and burst. A limit of zero or
// less removes the limit; the burst is at least one.
func (d *Dispatcher) SetRateLimit(limit float64, burst int) {
	d.limiter.SetLimit(toLimit(limit))
	d.limiter.SetBurst(max(burst, 1))
	d.logger.Info("rate limit updated", "rate_limit", limit, "rate_burst", max(burst, 1))
}

// RateLimit returns the current limit (rate.Inf when unlimited) and burst.
func (d *Dispatcher) RateLimit() (rate.Limit, int) {
	return d.limiter.Limit(), d.limiter.Burst()
}

// Pending returns the number of tasks waiting for a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting tasks, lets queued ones finish and waits for the
// workers to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Debug("dispatcher stopped")
}

func (d *Dispatcher) next() (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.queue) == 0 {
		return job{}, false
	}
	j := d.queue[0]
	d.queue[0] = job{}
	d.queue = d.queue[1:]
	d.metrics.dequeued(len(d.queue))
	return j, true
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		j, ok := d.next()
		if !ok {
			return
		}
		d.execute(j)
	}
}

func (d *Dispatcher) execute(j job) {
	// The limiter only errors when the wait can never succeed.
	if err := d.limiter.Wait(context.Background()); err != nil {
		d.logger.Warn("rate limiter wait failed", "task", j.task.ID, "error", err)
	}

	start := time.Now()
	res := run(d.store, j.task)
	elapsed := time.Since(start)
	d.metrics.completed(res, elapsed)

	if res.Err != nil {
		d.logger.Warn("task failed", "task", j.task.ID, "op", j.task.Op, "service", j.task.Service, "error", res.Err)
	} else {
		d.logger.Debug("task completed", "task", j.task.ID, "op", j.task.Op, "outcome", res.Kind(),
			"queued", start.Sub(j.enqueued), "elapsed", elapsed)
	}

	sink := j.sink
	j.deliver.Deliver(func() { sink(res) })
}
