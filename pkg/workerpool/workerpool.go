// Package workerpool provides a shared pool of workers with per-call-site
// "rooms" that collect results. The engine uses it to seal and unseal row
// payloads concurrently, since AEAD work is CPU-bound and rows are
// independent.
package workerpool

import (
	"runtime"
	"sync"
)

type Pool struct {
	config    Config
	taskQueue chan task
	closeOnce sync.Once
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Room groups the tasks of one logical operation and collects their results.
type Room struct {
	resultChan chan result
	wg         sync.WaitGroup
	pool       *Pool
}

type task struct {
	run  func() (interface{}, error)
	room *Room
}

type result struct {
	value interface{}
	err   error
}

func New(config Config) *Pool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 1024
	}

	p := &Pool{
		config:    config,
		taskQueue: make(chan task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	for t := range p.taskQueue {
		value, err := t.run()
		t.room.resultChan <- result{value: value, err: err}
		t.room.wg.Done()
	}
}

// Close stops the workers once all outstanding rooms have been collected.
// Safe to call more than once; Submit must not be called afterwards.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.taskQueue)
	})
}

// CreateRoom returns a room buffered for the expected number of tasks.
func (p *Pool) CreateRoom(size int) *Room {
	if size < 1 {
		size = 1
	}
	return &Room{
		resultChan: make(chan result, size),
		pool:       p,
	}
}

// Submit queues one task. Blocks if the global buffer is full.
func (ro *Room) Submit(job func() (interface{}, error)) {
	ro.wg.Add(1)
	ro.pool.taskQueue <- task{run: job, room: ro}
}

// Collect waits for all submitted tasks and returns their results in
// completion order. The first task error is returned after all tasks have
// finished.
func (ro *Room) Collect() ([]interface{}, error) {
	go func() {
		ro.wg.Wait()
		close(ro.resultChan)
	}()

	results := make([]interface{}, 0, cap(ro.resultChan))
	var firstErr error
	for r := range ro.resultChan {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		results = append(results, r.value)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
