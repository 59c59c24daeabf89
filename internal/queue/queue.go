// Copyright 2024 CarbonAI Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue provides a rate-limited serial work queue. Tasks run one at a
// time in submission order on a single worker goroutine, and consecutive task
// starts are spaced at least MinInterval apart.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMinInterval is the minimum spacing between task starts
const DefaultMinInterval = time.Second

// ErrClosed is returned for tasks submitted to, or still pending in, a closed queue
var ErrClosed = errors.New("queue is closed")

// Task is a unit of work executed by the queue
type Task func(ctx context.Context) (any, error)

// Stamp stores the start time of the most recent task. The queue reads it
// before each task and writes it immediately before the task runs, so slow
// tasks do not add to the next task's delay.
type Stamp interface {
	LastRequest() time.Time
	MarkRequest(t time.Time)
}

// Option configures a Queue
type Option func(*Queue)

// WithDepthObserver registers a callback invoked with the backlog length
// whenever it changes
func WithDepthObserver(fn func(depth int)) Option {
	return func(q *Queue) {
		q.onDepth = fn
	}
}

// WithStamp makes the queue read and write its rate-limit timestamp through s
func WithStamp(s Stamp) Option {
	return func(q *Queue) {
		if s != nil {
			q.stamp = s
		}
	}
}

type outcome struct {
	value any
	err   error
}

type job struct {
	ctx      context.Context
	task     Task
	result   chan outcome
	enqueued time.Time
}

// Queue is a FIFO executor with an unbounded backlog
type Queue struct {
	minInterval time.Duration
	stamp       Stamp
	logger      *zap.Logger
	onDepth     func(int)

	mu      sync.Mutex
	pending []*job
	closed  bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New creates a queue and starts its worker. Call Close to stop it.
func New(minInterval time.Duration, logger *zap.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minInterval < 0 {
		minInterval = 0
	}

	q := &Queue{
		minInterval: minInterval,
		stamp:       &localStamp{},
		logger:      logger,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	go q.run()

	return q
}

// Submit enqueues task and blocks until it has run, returning its result. If
// ctx ends first Submit returns ctx.Err(), but the task stays queued and still
// runs; the context handed to the task is never cancelled by the queue.
func (q *Queue) Submit(ctx context.Context, task Task) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j := &job{
		ctx:      context.WithoutCancel(ctx),
		task:     task,
		result:   make(chan outcome, 1),
		enqueued: time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.pending = append(q.pending, j)
	depth := len(q.pending)
	q.mu.Unlock()

	q.observeDepth(depth)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case out := <-j.result:
		return out.value, out.err
	case <-ctx.Done():
		q.logger.Debug("Caller stopped waiting for queued task",
			zap.Error(ctx.Err()),
			zap.Duration("waited", time.Since(j.enqueued)))
		return nil, ctx.Err()
	}
}

// Do is a typed wrapper around Submit
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	value, err := q.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}

	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("queue task returned %T", value)
	}
	return typed, nil
}

// Len returns the number of tasks waiting to run, excluding a running task
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting tasks, fails every pending task with ErrClosed and
// waits for a running task to finish
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()

	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)

	for {
		j, ok := q.next()
		if !ok {
			return
		}

		if !q.throttle() {
			j.result <- outcome{err: ErrClosed}
			q.failPending()
			return
		}

		start := time.Now()
		q.stamp.MarkRequest(start)

		value, err := q.execute(j)
		j.result <- outcome{value: value, err: err}

		q.logger.Debug("Queued task completed",
			zap.Duration("queue_wait", start.Sub(j.enqueued)),
			zap.Duration("run_time", time.Since(start)),
			zap.Bool("failed", err != nil))
	}
}

// next blocks until a task is available or the queue is closed
func (q *Queue) next() (*job, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			q.failPending()
			return nil, false
		}
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			depth := len(q.pending)
			q.mu.Unlock()

			q.observeDepth(depth)
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
		}
	}
}

// throttle sleeps until MinInterval has elapsed since the last task start.
// It returns false if the queue was closed while waiting.
func (q *Queue) throttle() bool {
	last := q.stamp.LastRequest()
	if last.IsZero() {
		return true
	}

	wait := q.minInterval - time.Since(last)
	if wait <= 0 {
		return true
	}

	q.logger.Debug("Rate limiting queued task", zap.Duration("delay", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-q.done:
		return false
	}
}

func (q *Queue) execute(j *job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Queued task panicked", zap.Any("panic", r))
			value, err = nil, fmt.Errorf("queued task panicked: %v", r)
		}
	}()

	return j.task(j.ctx)
}

func (q *Queue) failPending() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, j := range pending {
		j.result <- outcome{err: ErrClosed}
	}
	if len(pending) > 0 {
		q.observeDepth(0)
	}
}

func (q *Queue) observeDepth(depth int) {
	if q.onDepth != nil {
		q.onDepth(depth)
	}
}

// localStamp is the Stamp used when none is injected
type localStamp struct {
	mu   sync.Mutex
	last time.Time
}

func (s *localStamp) LastRequest() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *localStamp) MarkRequest(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = t
}
