package work

import (
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Handler defines the function signature for processing submitted items.
type Handler[T any] func(item T)

// Pool is a fixed-size worker pool draining a FIFO queue of items.
type Pool[T any] struct {
	queue    chan T
	handler  Handler[T]
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewPool starts numWorkers goroutines processing submitted items with handler.
func NewPool[T any](numWorkers int, queueDepth int, handler Handler[T]) *Pool[T] {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 16
	}

	p := &Pool[T]{
		queue:   make(chan T, queueDepth),
		handler: handler,
	}

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}

	return p
}

// Submit enqueues an item, blocking when the queue is at capacity. The read
// lock is held across the send so Stop cannot close the queue underneath it.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolClosed
	}

	p.queue <- item
	return nil
}

// Stop closes the queue and waits for in-flight items to finish.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// IsStopped reports whether the pool has been stopped.
func (p *Pool[T]) IsStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

func (p *Pool[T]) run() {
	defer p.wg.Done()
	for item := range p.queue {
		p.handler(item)
	}
}
