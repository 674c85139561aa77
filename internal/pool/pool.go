// Package pool runs tasks on a fixed number of worker goroutines fed from a
// bounded queue. Each task resolves its own Future.
package pool

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned for tasks submitted after Close.
var ErrClosed = errors.New("pool closed")

// Task is a unit of work.
type Task[T any] func() (T, error)

// Future is the pending result of a submitted task.
type Future[T any] struct {
	index int
	done  chan struct{}
	val   T
	err   error
}

// Index is the submission order of the task, starting at 0.
func (f *Future[T]) Index() int { return f.index }

// Done is closed once the task has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result blocks until the task finishes and returns its outcome.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

func (f *Future[T]) resolve(val T, err error) {
	f.val, f.err = val, err
	close(f.done)
}

type job[T any] struct {
	task   Task[T]
	future *Future[T]
}

// Pool is a fixed set of workers draining a bounded queue.
type Pool[T any] struct {
	queue chan job[T]
	g     errgroup.Group

	mu     sync.Mutex
	closed bool
	next   int
}

// New starts workers goroutines behind a queue of queueSize pending tasks.
func New[T any](workers, queueSize int) (*Pool[T], error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	if queueSize < 0 {
		return nil, fmt.Errorf("queue size must not be negative, got %d", queueSize)
	}
	p := &Pool[T]{queue: make(chan job[T], queueSize)}
	for i := 0; i < workers; i++ {
		p.g.Go(func() error {
			for j := range p.queue {
				run(j)
			}
			return nil
		})
	}
	return p, nil
}

func run[T any](j job[T]) {
	var val T
	var err error
	defer func() {
		if r := recover(); r != nil {
			var zero T
			j.future.resolve(zero, fmt.Errorf("task %d panicked: %v\n%s", j.future.index, r, debug.Stack()))
			return
		}
		j.future.resolve(val, err)
	}()
	val, err = j.task()
}

// Submit queues a task, blocking while the queue is full.
func (p *Pool[T]) Submit(task Task[T]) *Future[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := &Future[T]{index: p.next, done: make(chan struct{})}
	p.next++
	if p.closed {
		var zero T
		f.resolve(zero, ErrClosed)
		return f
	}
	p.queue <- job[T]{task: task, future: f}
	return f
}

// Close stops intake and waits for every queued and running task.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	_ = p.g.Wait() // workers never fail; task errors live on futures
}

// AsCompleted yields futures in the order they finish. The channel is
// closed after the last one.
func AsCompleted[T any](futures []*Future[T]) <-chan *Future[T] {
	out := make(chan *Future[T], len(futures))
	var wg sync.WaitGroup
	wg.Add(len(futures))
	for _, f := range futures {
		go func(f *Future[T]) {
			defer wg.Done()
			<-f.done
			out <- f
		}(f)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
