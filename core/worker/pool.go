// Package worker runs turns out of band on a bounded pool so webhook
// acknowledgements never wait for a turn to finish. Tasks sharing a key run
// on the same worker in submission order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/flowbot/core/logger"
)

var (
	// ErrQueueClosed is returned when a task is submitted after Close.
	ErrQueueClosed = errors.New("worker: queue closed")
	// ErrQueueFull indicates the queue is saturated and the task was not accepted.
	ErrQueueFull = errors.New("worker: queue full")
)

// Options controls the pool. Zero values pick the defaults.
type Options struct {
	// QueueSize is split evenly between the workers.
	QueueSize int
	Workers   int
	// Timeout bounds a single task.
	Timeout time.Duration
}

// Task is one unit of work. Its context is cancelled when Timeout elapses.
type Task struct {
	// Name labels the task in logs.
	Name string
	// Key pins the task to one worker so tasks with the same key never run
	// concurrently and start in submission order. Empty keys are spread round-robin.
	Key string
	Run func(ctx context.Context) error
	// ctx carries log correlation values; its cancellation is ignored.
	ctx context.Context
}

// Stats are cumulative counters.
type Stats struct {
	Done     uint64
	Failed   uint64
	TimedOut uint64
	Panicked uint64
	Rejected uint64
}

// Pool executes tasks on a fixed set of goroutines, each draining its own queue.
type Pool struct {
	opts   Options
	shards []chan Task
	next   atomic.Uint64
	stop   chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	// mu orders Submit against Close so no task is sent on a closed channel.
	mu sync.RWMutex

	done, failed, timedOut, panicked, rejected atomic.Uint64
}

// New starts a pool.
func New(opts Options) *Pool {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	depth := (opts.QueueSize + opts.Workers - 1) / opts.Workers
	p := &Pool{
		opts:   opts,
		shards: make([]chan Task, opts.Workers),
		stop:   make(chan struct{}),
	}
	p.wg.Add(opts.Workers)
	for i := range p.shards {
		p.shards[i] = make(chan Task, depth)
		go p.worker(p.shards[i])
	}
	logger.Info(context.Background(), logger.CompWorker, "pool.start",
		slog.Int("workers", opts.Workers),
		slog.Int("queue", opts.QueueSize),
		slog.Duration("timeout", opts.Timeout),
	)
	return p
}

// Submit queues a task without blocking. ctx only supplies log correlation
// values: the task outlives the request that submitted it.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	if t.Run == nil {
		return errors.New("worker: nil task")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx = context.WithoutCancel(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.stop:
		return ErrQueueClosed
	default:
	}
	select {
	case p.shardFor(t.Key) <- t:
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish, or for ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		close(p.stop)
		for _, ch := range p.shards {
			close(ch)
		}
		p.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info(context.Background(), logger.CompWorker, "pool.stop",
			slog.Uint64("done", p.done.Load()),
			slog.Uint64("failed", p.failed.Load()),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Done:     p.done.Load(),
		Failed:   p.failed.Load(),
		TimedOut: p.timedOut.Load(),
		Panicked: p.panicked.Load(),
		Rejected: p.rejected.Load(),
	}
}

func (p *Pool) shardFor(key string) chan Task {
	if key == "" {
		return p.shards[p.next.Add(1)%uint64(len(p.shards))]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

func (p *Pool) worker(tasks <-chan Task) {
	defer p.wg.Done()
	for t := range tasks {
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	ctx, cancel := context.WithTimeout(t.ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	err := p.invoke(ctx, t)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	switch {
	case err == nil:
		p.done.Add(1)
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, logger.CompWorker, "task.done",
				slog.String("task", t.Name),
				slog.Duration("duration", logger.RoundMS(logger.Took(start))),
			)
		}
		return
	case errors.Is(err, context.DeadlineExceeded):
		p.timedOut.Add(1)
	}
	p.failed.Add(1)
	logger.Error(ctx, logger.CompWorker, "task.fail",
		slog.String("task", t.Name),
		slog.String("status", statusOf(err)),
		slog.String("err", logger.SanitizeLimit(logger.Err(err), 256)),
		slog.String("err_kind", classifyError(err)),
		slog.Duration("duration", logger.RoundMS(logger.Took(start))),
	)
}

// invoke runs the task and turns a panic into an error so one bad turn
// never takes a worker down.
func (p *Pool) invoke(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.Run(ctx)
}

// PanicError wraps a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func statusOf(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "fail"
	}
}

func classifyError(err error) string {
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
