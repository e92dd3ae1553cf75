package loop

import "sync"

// Future is a result that becomes available later. Cells that evaluate to a
// Future are awaited by the evaluator.
type Future struct {
	done chan struct{}
	once sync.Once
	val  any
	err  error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve sets the result. Only the first call has an effect.
func (f *Future) Resolve(v any, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the resolved value; it is only meaningful after Done.
func (f *Future) Result() (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
		return nil, nil
	}
}

// After returns a future resolved with the frame number n frames from now.
func (l *Loop) After(n uint64) *Future {
	f := NewFuture()
	target := l.Frame() + n
	var cancel func()
	cancel = l.OnFrame(func(frame uint64) {
		if frame >= target {
			f.Resolve(frame, nil)
			cancel()
		}
	})
	return f
}
