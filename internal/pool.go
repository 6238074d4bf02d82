package internal

import "sync"

// WorkerPool runs queued functions on a fixed number of goroutines. Queue blocks once N functions are
// running and N more are buffered, which applies backpressure to whoever is producing the work.
type WorkerPool struct {
	N        int
	ch       chan func()
	stopOnce sync.Once
}

func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	return &WorkerPool{
		N:  n,
		ch: make(chan func(), n),
	}
}

// Start the workers. Only call this once.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.N; i++ {
		go wp.worker()
	}
}

// Stop the workers once the queue drains. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.ch)
	})
}

// Queue some work on the pool. May block until a worker frees up.
func (wp *WorkerPool) Queue(fn func()) {
	wp.ch <- fn
}

// RunAll queues every fn and blocks until all of them have returned. The functions may run
// concurrently and in any order.
func (wp *WorkerPool) RunAll(fns []func()) {
	if len(fns) == 0 {
		return
	}
	if len(fns) == 1 {
		fns[0]()
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for _, fn := range fns {
		fn := fn
		wp.Queue(func() {
			defer wg.Done()
			fn()
		})
	}
	wg.Wait()
}

func (wp *WorkerPool) worker() {
	for fn := range wp.ch {
		fn()
	}
}
