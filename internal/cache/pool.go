package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// EvictionPool runs eviction tasks ("reconcile this candidate page, then
// free or retain it") on a bounded pool of goroutines that grow on demand
// and shrink after an idle period, the way spec.md §4.7 describes workers
// sized between threads_min and threads_max.
//
// Adapted from the teacher's WorkerPool (filodb_workers.go): same
// task/worker channel handoff and idle-kill timer, retargeted from
// generic REPL-command tasks to eviction candidates and renamed to this
// package's vocabulary. idleTimeout is a field here rather than the
// teacher's package-level var so multiple pools (e.g. one per connection
// in tests) don't share state.
type EvictionPool struct {
	maxWorkers  int
	idleTimeout time.Duration

	taskQueue    chan func()
	workerQueue  chan func()
	stoppedChan  chan struct{}
	waitingQueue list.List
	stopOnce     sync.Once
	waiting      int32
}

// NewEvictionPool starts a pool sized at most maxWorkers, matching
// threads_max; workers are spun up lazily as candidates arrive.
func NewEvictionPool(maxWorkers int, idleTimeout time.Duration) *EvictionPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Second
	}
	p := &EvictionPool{
		maxWorkers:  maxWorkers,
		idleTimeout: idleTimeout,
		taskQueue:   make(chan func()),
		workerQueue: make(chan func()),
		stoppedChan: make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// Submit enqueues an eviction task without waiting for it to run.
func (p *EvictionPool) Submit(task func()) {
	if task != nil {
		p.taskQueue <- task
	}
}

// Stop drains in-flight work and shuts the pool down; queued-but-not-yet-
// started tasks are dropped (eviction candidates are re-discovered on the
// next walk, so losing a queued one is harmless).
func (p *EvictionPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.taskQueue)
	})
	<-p.stoppedChan
}

func (p *EvictionPool) dispatch() {
	defer close(p.stoppedChan)
	timeout := time.NewTimer(p.idleTimeout)
	defer timeout.Stop()
	var workerCount int
	var idle bool
	var wg sync.WaitGroup

Loop:
	for {
		if p.waitingQueue.Len() != 0 {
			if !p.processWaitingQueue() {
				break Loop
			}
			continue
		}

		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				break Loop
			}
			select {
			case p.workerQueue <- task:
			default:
				if workerCount < p.maxWorkers {
					wg.Add(1)
					go evictionWorker(task, p.workerQueue, &wg)
					workerCount++
				} else {
					p.waitingQueue.PushBack(task)
					atomic.StoreInt32(&p.waiting, int32(p.waitingQueue.Len()))
				}
			}
			idle = false

		case <-timeout.C:
			if idle && workerCount > 1 { // never kill the last worker below threads_min=1
				if p.killIdleWorker() {
					workerCount--
				}
			}
			idle = true
			timeout.Reset(p.idleTimeout)
		}
	}
	for workerCount > 0 {
		p.workerQueue <- nil
		workerCount--
	}
	wg.Wait()
}

func evictionWorker(task func(), workerQueue chan func(), wg *sync.WaitGroup) {
	for task != nil {
		task()
		task = <-workerQueue
	}
	wg.Done()
}

func (p *EvictionPool) killIdleWorker() bool {
	select {
	case p.workerQueue <- nil:
		return true
	default:
		return false
	}
}

func (p *EvictionPool) processWaitingQueue() bool {
	select {
	case task, ok := <-p.taskQueue:
		if !ok {
			return false
		}
		p.waitingQueue.PushBack(task)
	case p.workerQueue <- p.waitingQueue.Front().Value.(func()):
		front := p.waitingQueue.Front()
		p.waitingQueue.Remove(front)
	}
	atomic.StoreInt32(&p.waiting, int32(p.waitingQueue.Len()))
	return true
}
