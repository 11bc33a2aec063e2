package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/speech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSpeechClient struct {
	mock.Mock
}

func (m *mockSpeechClient) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSpeechClient) Disconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSpeechClient) StartTranscription(ctx context.Context, req speech.Request, progress speech.ProgressFunc) (*speech.Transcript, error) {
	args := m.Called(ctx, req, progress)
	tr, _ := args.Get(0).(*speech.Transcript)
	return tr, args.Error(1)
}

func (m *mockSpeechClient) StopTranscription(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// stubPool hands out a single client and records how it was released.
type stubPool struct {
	client     speech.Client
	acquireErr error

	mu       sync.Mutex
	released []bool
}

func (p *stubPool) Acquire(ctx context.Context) (speech.Client, func(bool), error) {
	if p.acquireErr != nil {
		return nil, nil, p.acquireErr
	}
	return p.client, func(healthy bool) {
		p.mu.Lock()
		p.released = append(p.released, healthy)
		p.mu.Unlock()
	}, nil
}

type progressRecorder struct {
	percentages []float64
	stages      []string
}

func (r *progressRecorder) report(percentage float64, stage string, remaining time.Duration) {
	r.percentages = append(r.percentages, percentage)
	r.stages = append(r.stages, stage)
}

func newTestExecutor(t *testing.T, pool ClientPool) *TranscriptionExecutor {
	t.Helper()
	exec, err := NewTranscriptionExecutor(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return exec
}

func transcriptionJob() *domain.Job {
	job := domain.NewJob(domain.NewJobRequest{
		AudioURL: "https://recordings.example.com/standup.m4a",
		Language: "en-US",
	}, time.Now())
	return job
}

func TestNewTranscriptionExecutor_Validation(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewTranscriptionExecutor(nil, logger)
	assert.ErrorIs(t, err, ErrNilPool)

	_, err = NewTranscriptionExecutor(&stubPool{}, nil)
	assert.ErrorIs(t, err, ErrNilLogger)
}

func TestTranscriptionExecutor_Success(t *testing.T) {
	t.Parallel()
	client := new(mockSpeechClient)
	pool := &stubPool{client: client}
	exec := newTestExecutor(t, pool)
	job := transcriptionJob()

	client.On("StartTranscription", mock.Anything, mock.MatchedBy(func(req speech.Request) bool {
		return req.JobID == job.ID && req.AudioURL == job.AudioURL && req.Language == "en-US"
	}), mock.Anything).
		Run(func(args mock.Arguments) {
			progress := args.Get(2).(speech.ProgressFunc)
			progress(50, "transcribing")
		}).
		Return(&speech.Transcript{Text: "good morning", Language: "en-US"}, nil).
		Once()

	rec := &progressRecorder{}
	result, err := exec.Execute(context.Background(), job, rec.report)
	require.NoError(t, err)

	var tr speech.Transcript
	require.NoError(t, json.Unmarshal(result, &tr))
	assert.Equal(t, "good morning", tr.Text)
	assert.Equal(t, []float64{5, 10, 52.5, 100}, rec.percentages)
	assert.Equal(t, []string{"connecting", "transcribing", "transcribing", "completed"}, rec.stages)
	assert.Equal(t, []bool{true}, pool.released)
	client.AssertExpectations(t)
}

func TestTranscriptionExecutor_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		clientErr       error
		wantType        domain.ErrorType
		wantRecoverable bool
	}{
		{
			name:            "transient service failure",
			clientErr:       speech.ErrTransientError,
			wantType:        domain.ErrorTypeExternalAPI,
			wantRecoverable: true,
		},
		{
			name:      "permanent transcription failure",
			clientErr: speech.ErrTranscription,
			wantType:  domain.ErrorTypeExternalAPI,
		},
		{
			name:      "rejected audio",
			clientErr: speech.ErrEmptyAudio,
			wantType:  domain.ErrorTypeValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := new(mockSpeechClient)
			client.On("StartTranscription", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, tc.clientErr)
			pool := &stubPool{client: client}
			exec := newTestExecutor(t, pool)

			_, err := exec.Execute(context.Background(), transcriptionJob(), (&progressRecorder{}).report)

			var jobErr *domain.JobError
			require.ErrorAs(t, err, &jobErr)
			assert.Equal(t, tc.wantType, jobErr.Type)
			assert.Equal(t, tc.wantRecoverable, jobErr.Recoverable)
			assert.ErrorIs(t, err, tc.clientErr)
			assert.Equal(t, []bool{false}, pool.released)
		})
	}
}

func TestTranscriptionExecutor_MissingAudio(t *testing.T) {
	t.Parallel()
	exec := newTestExecutor(t, &stubPool{acquireErr: errors.New("must not be called")})
	job := transcriptionJob()
	job.AudioURL = ""

	_, err := exec.Execute(context.Background(), job, (&progressRecorder{}).report)

	var jobErr *domain.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, domain.ErrorTypeValidation, jobErr.Type)
	assert.False(t, jobErr.Recoverable)
}

func TestTranscriptionExecutor_PoolExhausted(t *testing.T) {
	t.Parallel()
	exec := newTestExecutor(t, &stubPool{acquireErr: speech.ErrPoolClosed})

	_, err := exec.Execute(context.Background(), transcriptionJob(), (&progressRecorder{}).report)

	var jobErr *domain.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, domain.ErrorTypeResourceExhausted, jobErr.Type)
	assert.True(t, jobErr.Recoverable)
	assert.ErrorIs(t, err, speech.ErrPoolClosed)
}

func TestTranscriptionExecutor_CancelStopsClient(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	client := new(mockSpeechClient)
	client.On("StartTranscription", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)
	client.On("StopTranscription", mock.Anything).Return(nil).Once()
	pool := &stubPool{client: client}
	exec := newTestExecutor(t, pool)

	_, err := exec.Execute(ctx, transcriptionJob(), (&progressRecorder{}).report)

	assert.ErrorIs(t, err, context.Canceled)
	client.AssertExpectations(t)
	assert.Equal(t, []bool{false}, pool.released)
}
