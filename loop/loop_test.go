package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T, opts ...Option) *Loop {
	t.Helper()
	l := New(append([]Option{WithFrameInterval(time.Millisecond)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestSubmitRunsOnLoop(t *testing.T) {
	l := startLoop(t)
	ran := false
	require.NoError(t, l.Submit(context.Background(), func(context.Context) { ran = true }))
	assert.True(t, ran)
}

func TestCallReturnsValue(t *testing.T) {
	l := startLoop(t)
	got, err := Call(context.Background(), l, func(context.Context) int { return 42 })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestTasksNeverOverlap(t *testing.T) {
	l := startLoop(t)

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		counter int
	)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Submit(context.Background(), func(context.Context) {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				v := counter
				time.Sleep(100 * time.Microsecond)
				counter = v + 1

				mu.Lock()
				running--
				mu.Unlock()
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 20, counter)
}

func TestTaskPanicDoesNotStopLoop(t *testing.T) {
	l := startLoop(t)
	require.NoError(t, l.Submit(context.Background(), func(context.Context) { panic("boom") }))
	got, err := Call(context.Background(), l, func(context.Context) string { return "alive" })
	require.NoError(t, err)
	assert.Equal(t, "alive", got)
}

func TestFramesTick(t *testing.T) {
	l := startLoop(t)
	seen := make(chan uint64, 1)
	cancel := l.OnFrame(func(frame uint64) {
		select {
		case seen <- frame:
		default:
		}
	})
	defer cancel()

	select {
	case f := <-seen:
		assert.Positive(t, f)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame callback within 2s")
	}
}

func TestAwaitKeepsFramesRunning(t *testing.T) {
	l := startLoop(t)
	got, err := Call(context.Background(), l, func(ctx context.Context) any {
		f := l.After(3)
		if err := l.Await(ctx, f.Done()); err != nil {
			return err
		}
		v, _ := f.Result()
		return v
	})
	require.NoError(t, err)
	frame, ok := got.(uint64)
	require.True(t, ok, "expected frame number, got %T", got)
	assert.GreaterOrEqual(t, frame, uint64(3))
}

func TestAwaitOutsideTask(t *testing.T) {
	l := startLoop(t)
	err := l.Await(context.Background(), make(chan struct{}))
	assert.ErrorIs(t, err, ErrNotInTask)
}

func TestSubmitAfterStop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	cancel()
	<-done

	// The queue has free slots, so every attempt must still see the stop.
	for i := 0; i < 100; i++ {
		err := l.Submit(context.Background(), func(context.Context) {})
		require.ErrorIs(t, err, ErrStopped)
		require.ErrorIs(t, l.Post(func(context.Context) {}), ErrStopped)
	}
	assert.Zero(t, l.Pending())
}

func TestSubmitBeforeRunWaits(t *testing.T) {
	l := New(WithFrameInterval(time.Millisecond))
	result := make(chan error, 1)
	go func() {
		result <- l.Submit(context.Background(), func(context.Context) {})
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued task never ran")
	}
}

func TestFutureResolveOnce(t *testing.T) {
	f := NewFuture()
	v, err := f.Result()
	assert.Nil(t, v)
	assert.NoError(t, err)

	f.Resolve("first", nil)
	f.Resolve("second", nil)
	<-f.Done()
	v, _ = f.Result()
	assert.Equal(t, "first", v)
}
