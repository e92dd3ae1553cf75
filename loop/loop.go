// Package loop implements the host loop: a single goroutine that runs every
// task touching the shared scope, one at a time, between per-frame callbacks.
//
// Other goroutines never touch the scope themselves. They hand work to the
// loop with Submit (or Call) and block until the loop has run it.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultInterval  = 16 * time.Millisecond
	defaultQueueSize = 64
)

var (
	// ErrStopped is returned when the loop is not running anymore.
	ErrStopped = errors.New("loop: stopped")
	// ErrNotInTask is returned by Await outside of a loop task.
	ErrNotInTask = errors.New("loop: await outside of a loop task")
)

// FrameFunc is called once per frame on the loop goroutine.
type FrameFunc func(frame uint64)

type task struct {
	fn   func(context.Context)
	done chan struct{}
}

// Loop is a cooperative single-threaded scheduler.
type Loop struct {
	interval time.Duration
	tasks    chan task

	mu      sync.Mutex
	frameFn map[uint64]FrameFunc
	nextID  uint64

	frame   atomic.Uint64
	inTask  atomic.Bool
	stopped chan struct{}
	runOnce sync.Once
}

// Option configures a Loop.
type Option func(*Loop)

// WithFrameInterval sets how often frame callbacks run.
func WithFrameInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithQueueSize sets how many submitted tasks may wait before Submit blocks.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.tasks = make(chan task, n)
		}
	}
}

// New creates a loop. Nothing runs until Run is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		interval: defaultInterval,
		tasks:    make(chan task, defaultQueueSize),
		frameFn:  make(map[uint64]FrameFunc),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run processes tasks and frames on the calling goroutine until ctx is done.
// Tasks still queued when Run returns are never executed; their submitters
// get ErrStopped.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("loop: already run")
	}
	defer close(l.stopped)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		// Finish frames first when both are ready so host work is not starved.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick()
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-l.tasks:
			l.runTask(ctx, t)
		case <-ticker.C:
			l.tick()
		}
	}
}

// Stopped is closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

// Frame returns the number of frames run so far.
func (l *Loop) Frame() uint64 {
	return l.frame.Load()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return len(l.tasks)
}

// Submit queues fn and blocks until the loop has run it. The context only
// bounds the wait for a queue slot: once queued, a task always runs to
// completion. Submit must not be called from inside a loop task.
func (l *Loop) Submit(ctx context.Context, fn func(context.Context)) error {
	if l.isStopped() {
		return ErrStopped
	}
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case l.tasks <- t:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-l.stopped:
		select {
		case <-t.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(fn func(context.Context)) error {
	if l.isStopped() {
		return ErrStopped
	}
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case l.tasks <- t:
		return nil
	case <-l.stopped:
		return ErrStopped
	}
}

// isStopped reports whether Run has returned.
func (l *Loop) isStopped() bool {
	select {
	case <-l.stopped:
		return true
	default:
		return false
	}
}

// Call runs fn on the loop and returns its result to the calling goroutine.
func Call[T any](ctx context.Context, l *Loop, fn func(context.Context) T) (T, error) {
	var out T
	err := l.Submit(ctx, func(ctx context.Context) {
		out = fn(ctx)
	})
	return out, err
}

// OnFrame registers fn to run every frame. The returned func unregisters it.
func (l *Loop) OnFrame(fn FrameFunc) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.frameFn[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.frameFn, id)
		l.mu.Unlock()
	}
}

// Await blocks the current task until done is closed, running frame callbacks
// meanwhile so the host keeps ticking. No other task runs while awaiting.
func (l *Loop) Await(ctx context.Context, done <-chan struct{}) error {
	if !l.inTask.Load() {
		return ErrNotInTask
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) runTask(ctx context.Context, t task) {
	l.inTask.Store(true)
	defer func() {
		l.inTask.Store(false)
		if r := recover(); r != nil {
			slog.Error("loop task panicked", "panic", r)
		}
		close(t.done)
	}()
	t.fn(ctx)
}

func (l *Loop) tick() {
	frame := l.frame.Add(1)

	l.mu.Lock()
	ids := make([]uint64, 0, len(l.frameFn))
	for id := range l.frameFn {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]FrameFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.frameFn[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		runFrame(fn, frame)
	}
}

func runFrame(fn FrameFunc, frame uint64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("frame callback panicked", "frame", frame, "panic", r)
		}
	}()
	fn(frame)
}
