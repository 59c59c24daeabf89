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

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const testInterval = 40 * time.Millisecond

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects task start times in execution order
type recorder struct {
	mu     sync.Mutex
	order  []int
	starts []time.Time
}

func (r *recorder) task(id int, runFor time.Duration) Task {
	return func(_ context.Context) (any, error) {
		r.mu.Lock()
		r.order = append(r.order, id)
		r.starts = append(r.starts, time.Now())
		r.mu.Unlock()
		if runFor > 0 {
			time.Sleep(runFor)
		}
		return id, nil
	}
}

func TestQueueRunsTasksInSubmissionOrderWithSpacing(t *testing.T) {
	q := New(testInterval, zaptest.NewLogger(t))
	defer q.Close()

	rec := &recorder{}
	const n = 6

	// Submit sequentially from separate goroutines, waiting for each to be
	// enqueued so submission order is well defined.
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			v, err := q.Submit(context.Background(), rec.task(id, 0))
			assert.NoError(t, err)
			results[id] = v.(int)
		}(i)
		require.Eventually(t, func() bool {
			rec.mu.Lock()
			started := len(rec.order)
			rec.mu.Unlock()
			return q.Len()+started >= i+1
		}, time.Second, time.Millisecond)
	}
	wg.Wait()

	require.Len(t, rec.order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, rec.order[i], "tasks must run in submission order")
		assert.Equal(t, i, results[i], "each caller receives its own result")
	}
	for i := 1; i < n; i++ {
		gap := rec.starts[i].Sub(rec.starts[i-1])
		assert.GreaterOrEqual(t, gap, testInterval, "start gap between task %d and %d", i-1, i)
	}
}

func TestQueueOnlyOneTaskRunsAtATime(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	var mu sync.Mutex
	running, maxRunning := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), func(_ context.Context) (any, error) {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxRunning)
}

func TestQueueStampsBeforeExecution(t *testing.T) {
	q := New(testInterval, nil)
	defer q.Close()

	rec := &recorder{}

	// The first task runs longer than the interval, so the second task must
	// start as soon as the first one finishes instead of waiting another interval.
	_, err := q.Submit(context.Background(), rec.task(0, 2*testInterval))
	require.NoError(t, err)
	finished := time.Now()
	_, err = q.Submit(context.Background(), rec.task(1, 0))
	require.NoError(t, err)

	require.Len(t, rec.starts, 2)
	assert.Less(t, rec.starts[1].Sub(finished), testInterval)
}

func TestQueueSharedStamp(t *testing.T) {
	stamp := &localStamp{}
	stamp.MarkRequest(time.Now())

	q := New(testInterval, nil, WithStamp(stamp))
	defer q.Close()

	before := time.Now()
	_, err := q.Submit(context.Background(), func(_ context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	// The injected stamp was recent, so the first task had to wait
	assert.GreaterOrEqual(t, time.Since(before), testInterval/2)
	assert.True(t, stamp.LastRequest().After(before))
}

func TestQueuePropagatesTaskErrors(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	boom := errors.New("boom")
	_, err := q.Submit(context.Background(), func(_ context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// The worker survives a panicking task
	_, err = q.Submit(context.Background(), func(_ context.Context) (any, error) {
		panic("bad task")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	v, err := q.Submit(context.Background(), func(_ context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestQueueCallerContextDoesNotCancelTask(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	release := make(chan struct{})
	taskCtxErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.Submit(ctx, func(taskCtx context.Context) (any, error) {
		<-release
		taskCtxErr <- taskCtx.Err()
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	select {
	case err := <-taskCtxErr:
		assert.NoError(t, err, "the task keeps running with a live context")
	case <-time.After(time.Second):
		t.Fatal("task never ran to completion")
	}
}

func TestQueueRejectsCancelledContext(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	_, err := q.Submit(ctx, func(_ context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestQueueCloseFailsPendingTasks(t *testing.T) {
	q := New(time.Hour, nil)

	// The first task stamps the queue, so the second one waits an hour
	_, err := q.Submit(context.Background(), func(_ context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), func(_ context.Context) (any, error) { return nil, nil })
		errs <- err
	}()

	// Whether the second task is still pending or already waiting out the
	// interval, Close must fail it.
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending task was not failed on close")
	}

	_, err = q.Submit(context.Background(), func(_ context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent
	q.Close()
}

func TestQueueDepthObserver(t *testing.T) {
	var mu sync.Mutex
	var depths []int

	q := New(0, nil, WithDepthObserver(func(d int) {
		mu.Lock()
		depths = append(depths, d)
		mu.Unlock()
	}))
	defer q.Close()

	_, err := q.Submit(context.Background(), func(_ context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{1, 0}, depths)
}

func TestDoTyped(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	s, err := Do(context.Background(), q, func(_ context.Context) (string, error) {
		return "content", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "content", s)

	_, err = Do(context.Background(), q, func(_ context.Context) (string, error) {
		return "", errors.New("failed")
	})
	assert.EqualError(t, err, "failed")

	var nilErr error
	got, err := Do(context.Background(), q, func(_ context.Context) (error, error) {
		return nilErr, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}
