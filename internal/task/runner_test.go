package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue hands out jobs in order and records what the runner reports.
type fakeQueue struct {
	wake chan struct{}

	mu        sync.Mutex
	pending   []*domain.Job
	cancels   map[string]context.CancelFunc
	completed map[string]json.RawMessage
	failed    map[string]error
	progress  []float64
}

func newFakeQueue(jobs ...*domain.Job) *fakeQueue {
	return &fakeQueue{
		wake:      make(chan struct{}, 1),
		pending:   jobs,
		cancels:   make(map[string]context.CancelFunc),
		completed: make(map[string]json.RawMessage),
		failed:    make(map[string]error),
	}
}

func (q *fakeQueue) WakeChan() <-chan struct{} { return q.wake }

func (q *fakeQueue) push(job *domain.Job) {
	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.poke()
}

func (q *fakeQueue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *fakeQueue) GetNextJob(ctx context.Context) *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job
}

func (q *fakeQueue) BindExecution(jobID string, cancel context.CancelFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancels[jobID] = cancel
	return nil
}

func (q *fakeQueue) ReportProgress(ctx context.Context, jobID string, percentage float64, stage string, remaining time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.progress = append(q.progress, percentage)
	return nil
}

func (q *fakeQueue) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[jobID] = result
	return nil
}

func (q *fakeQueue) FailJob(ctx context.Context, jobID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = cause
	return nil
}

func (q *fakeQueue) cancel(jobID string) bool {
	q.mu.Lock()
	cancel, ok := q.cancels[jobID]
	q.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (q *fakeQueue) outcome(jobID string) (json.RawMessage, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.completed[jobID]; ok {
		return r, true, nil
	}
	if err, ok := q.failed[jobID]; ok {
		return nil, true, err
	}
	return nil, false, nil
}

func testJob(id string) *domain.Job {
	return &domain.Job{
		ID:        id,
		Priority:  domain.PriorityNormal,
		Execution: &domain.ExecutionContext{Status: domain.StatusProcessing, MaxRetries: 3},
	}
}

func startRunner(t *testing.T, q *fakeQueue, exec Executor, cfg RunnerConfig) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(q, exec, cfg, clockwork.NewFakeClock(), logger)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
}

func TestRunner_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		exec        ExecutorFunc
		wantResult  string
		wantErrType domain.ErrorType
		recoverable bool
	}{
		{
			name: "success",
			exec: func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
				return json.RawMessage(`{"text":"hi"}`), nil
			},
			wantResult: `{"text":"hi"}`,
		},
		{
			name: "job error passed through",
			exec: func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
				return nil, domain.NewJobError(domain.ErrorTypeValidation, "bad audio", false)
			},
			wantErrType: domain.ErrorTypeValidation,
		},
		{
			name: "plain error is recoverable",
			exec: func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
				return nil, errors.New("connection reset")
			},
			wantErrType: domain.ErrorTypeExternalAPI,
			recoverable: true,
		},
		{
			name: "panic is internal",
			exec: func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
				panic("boom")
			},
			wantErrType: domain.ErrorTypeInternal,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := newFakeQueue(testJob("job-1"))
			startRunner(t, q, tc.exec, RunnerConfig{MaxConcurrent: 1})

			var (
				result json.RawMessage
				err    error
			)
			require.Eventually(t, func() bool {
				var done bool
				result, done, err = q.outcome("job-1")
				return done
			}, time.Second, 5*time.Millisecond)

			if tc.wantResult != "" {
				require.NoError(t, err)
				assert.JSONEq(t, tc.wantResult, string(result))
				return
			}
			var jobErr *domain.JobError
			require.ErrorAs(t, err, &jobErr)
			assert.Equal(t, tc.wantErrType, jobErr.Type)
			assert.Equal(t, tc.recoverable, jobErr.Recoverable)
		})
	}
}

func TestRunner_ExecutionTimeout(t *testing.T) {
	t.Parallel()
	q := newFakeQueue(testJob("slow"))
	exec := ExecutorFunc(func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	startRunner(t, q, exec, RunnerConfig{MaxConcurrent: 1, ExecutionTimeout: 10 * time.Millisecond})

	require.Eventually(t, func() bool {
		_, done, _ := q.outcome("slow")
		return done
	}, time.Second, 5*time.Millisecond)

	_, _, err := q.outcome("slow")
	var jobErr *domain.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, domain.ErrorTypeTimeout, jobErr.Type)
	assert.True(t, jobErr.Recoverable)
}

func TestRunner_CancelledJobIsNotReported(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	exited := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
		defer close(exited)
		close(started)
		<-ctx.Done()
		return nil, errors.New("interrupted")
	})
	q := newFakeQueue(testJob("job-c"))
	startRunner(t, q, exec, RunnerConfig{MaxConcurrent: 1})

	<-started
	require.True(t, q.cancel("job-c"))
	<-exited

	assert.Never(t, func() bool {
		_, done, _ := q.outcome("job-c")
		return done
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestRunner_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()
	var (
		running atomic.Int32
		peak    atomic.Int32
	)
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return json.RawMessage(`{}`), nil
	})

	q := newFakeQueue(testJob("a"), testJob("b"), testJob("c"), testJob("d"))
	startRunner(t, q, exec, RunnerConfig{MaxConcurrent: 2})

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return running.Load() > 2 }, 30*time.Millisecond, 5*time.Millisecond)
	close(release)

	// Finished slots are refilled on the next wake.
	for _, id := range []string{"a", "b", "c", "d"} {
		require.Eventually(t, func() bool {
			q.poke()
			_, done, _ := q.outcome(id)
			return done
		}, time.Second, 5*time.Millisecond, id)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunner_ProgressObserver(t *testing.T) {
	t.Parallel()
	exec := ExecutorFunc(func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
		progress(25, "uploading", time.Minute)
		progress(75, "transcribing", 10*time.Second)
		return json.RawMessage(`{}`), nil
	})
	q := newFakeQueue()
	r := startRunner(t, q, exec, RunnerConfig{})

	var (
		mu   sync.Mutex
		seen []string
	)
	r.SetProgressObserver(func(ctx context.Context, jobID string, percentage float64, stage string, remaining time.Duration) {
		mu.Lock()
		seen = append(seen, jobID+":"+stage)
		mu.Unlock()
	})
	q.push(testJob("p"))

	require.Eventually(t, func() bool {
		_, done, _ := q.outcome("p")
		return done
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"p:uploading", "p:transcribing"}, seen)
	q.mu.Lock()
	assert.Equal(t, []float64{25, 75}, q.progress)
	q.mu.Unlock()
}

func TestRunner_ErrorHandlerAndHealth(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := newFakeQueue()
	r := NewRunner(q, ExecutorFunc(func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
		return nil, errors.New("upstream 503")
	}), RunnerConfig{}, clockwork.NewFakeClock(), logger)

	assert.ErrorIs(t, r.HealthCheck(context.Background()), ErrRunnerNotRunning)

	handled := make(chan error, 1)
	r.SetErrorHandler(func(job *domain.Job, err error) { handled <- err })
	require.NoError(t, r.Start(context.Background()))
	assert.NoError(t, r.HealthCheck(context.Background()))

	q.push(testJob("e"))
	select {
	case err := <-handled:
		assert.Contains(t, err.Error(), "upstream 503")
	case <-time.After(time.Second):
		t.Fatal("error handler not called")
	}

	require.NoError(t, r.Stop(context.Background()))
	assert.ErrorIs(t, r.HealthCheck(context.Background()), ErrRunnerNotRunning)
}
