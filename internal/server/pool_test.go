package server

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolExecutesTasks(t *testing.T) {
	p := NewPool(4, 16, quietLogger())
	p.Start()
	defer p.Stop()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, int64(100), n.Load())
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool(1, 4, quietLogger())
	p.Start()
	defer p.Stop()

	p.Submit(func() { panic("handler blew up") })

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestPoolSubmitRunsInlineWhenSaturated(t *testing.T) {
	p := NewPool(1, 1, quietLogger())
	p.Start()
	defer p.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-block
	})
	<-started
	p.Submit(func() { <-block }) // fills the queue

	// The queue is full and the only worker is blocked, so this task must
	// run synchronously in the submitting goroutine.
	ran := false
	p.Submit(func() { ran = true })
	require.True(t, ran)

	close(block)
}

func TestPoolSubmitAfterStopRunsInline(t *testing.T) {
	p := NewPool(1, 1, quietLogger())
	p.Start()
	p.Stop()

	ran := false
	p.Submit(func() { ran = true })
	assert.True(t, ran)
}

func TestPoolStopDrainsQueuedTasks(t *testing.T) {
	p := NewPool(2, 32, quietLogger())
	p.Start()

	var n atomic.Int64
	for i := 0; i < 32; i++ {
		p.Submit(func() { n.Add(1) })
	}
	p.Stop()
	assert.Equal(t, int64(32), n.Load())
}
