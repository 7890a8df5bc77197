package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := New(3, 0)
	defer p.Close()

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(func() { done.Add(1) })
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), done.Load())
}

func TestPoolRecyclesWorkers(t *testing.T) {
	// A one-byte limit recycles the worker after every job; jobs must still
	// all complete.
	p := New(1, 1)
	defer p.Close()

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		p.Run(func() {
			buf := make([]byte, 1<<16)
			buf[0] = 1
			done.Add(1)
		})
	}

	assert.Equal(t, int32(10), done.Load())
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	p := New(2, 0)
	p.Run(func() {})
	p.Close()
	p.Close()
}
