package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/app"
	"github.com/phrazzld/meetscribe/internal/auth"
	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/phrazzld/meetscribe/internal/conflict"
	"github.com/phrazzld/meetscribe/internal/queue"
	"github.com/phrazzld/meetscribe/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret-that-is-long-enough-for-testing",
			Issuer:        "meetscribe-test",
			TokenLifetime: time.Hour,
		},
		Queue: config.QueueConfig{
			MaxSize:           5,
			Mode:              "priority",
			MaxConcurrentJobs: 2,
			MaxMemoryPerJob:   256,
			MaxTotalMemory:    1024,
			MaxAPICalls:       10,
			DefaultMaxRetries: 1,
			RetentionLimit:    10,
			BaseRetryDelay:    time.Second,
			MaxRetryDelay:     5 * time.Second,
			PollInterval:      time.Second,
		},
		Tracker: config.TrackerConfig{
			ProgressUpdateInterval: 5 * time.Second,
			DefaultTimeout:         time.Minute,
			MaxEventsPerJob:        50,
			RetentionTTL:           time.Hour,
		},
		Notifications: config.NotificationConfig{
			ProgressThrottleInterval: time.Second,
			Transport:                "none",
		},
		Storage: config.StorageConfig{
			MemoryTTL:          5 * time.Minute,
			SweepInterval:      time.Minute,
			TransactionTimeout: 30 * time.Second,
		},
		Conflicts: config.ConflictConfig{
			TimestampTolerance:  5 * time.Second,
			ConcurrentWindow:    10 * time.Second,
			HighSeverityAge:     24 * time.Hour,
			CriticalSeverityAge: 72 * time.Hour,
			MaxResolved:         10,
			Backup:              "storage",
		},
		Speech: config.SpeechConfig{Provider: "none", PoolSize: 1},
	}
}

type testServer struct {
	*httptest.Server
	app     *app.App
	tokens  *auth.TokenService
	clock   *clockwork.FakeClock
	memory  *storage.MemoryAdapter
	session *storage.MemoryAdapter
	token   string
}

// newTestServer wires the router to an app that is built but not started,
// so submitted jobs stay queued.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()

	ts := &testServer{
		clock:   clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)),
		session: storage.NewSessionAdapter(),
	}
	ts.memory = storage.NewMemoryAdapter(0, ts.clock)

	a, err := app.New(context.Background(), cfg, logger,
		app.WithClock(ts.clock),
		app.WithLayerAdapters(map[storage.Layer]storage.Adapter{
			storage.LayerMemory:  ts.memory,
			storage.LayerSession: ts.session,
		}))
	require.NoError(t, err)
	ts.app = a

	ts.tokens, err = auth.NewTokenService(cfg.Auth, ts.clock)
	require.NoError(t, err)
	ts.token = ts.issue(t)

	ts.Server = httptest.NewServer(NewRouter(Services{
		Jobs:      a,
		Queue:     a.Queue,
		Tracker:   a.Tracker,
		Storage:   a.Storage,
		Conflicts: a.Conflicts,
		Health:    a,
		Tokens:    ts.tokens,
	}, logger))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) issue(t *testing.T, scopes ...string) string {
	t.Helper()
	token, err := ts.tokens.Issue(context.Background(), "test", 0, scopes...)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return ts.doWithToken(t, ts.token, method, path, body)
}

func (ts *testServer) doWithToken(t *testing.T, token, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func TestRouter_Healthz(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.doWithToken(t, "", http.MethodGet, "/healthz", nil)
	// The runner is not started.
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	report := decode[app.HealthReport](t, body)
	assert.False(t, report.Healthy)
	assert.Equal(t, app.StatusHealthy, report.Components["queue"].Status)
	assert.Equal(t, app.StatusUnhealthy, report.Components["runner"].Status)
}

func TestRouter_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.doWithToken(t, "", http.MethodGet, "/v1/queue/state", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.doWithToken(t, "not-a-token", http.MethodGet, "/v1/queue/state", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	jobsOnly := ts.issue(t, ScopeJobs)
	resp, _ = ts.doWithToken(t, jobsOnly, http.MethodGet, "/v1/queue/state", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.doWithToken(t, jobsOnly, http.MethodGet, "/v1/storage/settings", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestJobs_CreateValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name    string
		body    any
		want    int
		message string
	}{
		{
			name:    "missing audio url",
			body:    map[string]any{"priority": "high"},
			want:    http.StatusBadRequest,
			message: "Invalid AudioURL: required field",
		},
		{
			name:    "bad priority",
			body:    map[string]any{"audio_url": "https://example.com/a.mp3", "priority": "asap"},
			want:    http.StatusBadRequest,
			message: "Invalid Priority: invalid value",
		},
		{
			name:    "unknown field",
			body:    map[string]any{"audio_url": "https://example.com/a.mp3", "colour": "red"},
			want:    http.StatusBadRequest,
			message: "Invalid request format",
		},
		{
			name:    "empty body",
			body:    "",
			want:    http.StatusBadRequest,
			message: "Invalid request format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/v1/jobs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
			assert.Equal(t, tt.message, decode[map[string]any](t, body)["error"])
		})
	}
}

func TestJobs_MaxRetries(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unset takes the default", `{"audio_url":"https://example.com/a.mp3"}`, 1},
		{"explicit zero is kept", `{"audio_url":"https://example.com/a.mp3","max_retries":0}`, 0},
		{"explicit value is kept", `{"audio_url":"https://example.com/a.mp3","max_retries":4}`, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/v1/jobs", tt.body)
			require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
			assert.Equal(t, tt.want, decode[JobResponse](t, body).Job.Execution.MaxRetries)
		})
	}
}

func TestJobs_Lifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/jobs", CreateJobRequest{
		AudioURL: "https://example.com/standup.mp3",
		Priority: "high",
		Tags:     []string{"standup"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	created := decode[JobResponse](t, body)
	id := created.Job.ID
	require.NotEmpty(t, id)
	assert.Equal(t, 1, created.Job.Execution.MaxRetries)

	resp, body = ts.do(t, http.MethodGet, "/v1/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, queue.LocationQueued, decode[JobResponse](t, body).Location)

	resp, body = ts.do(t, http.MethodGet, "/v1/queue/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[queue.State](t, body)
	require.Len(t, state.Queued["high"], 1)
	assert.Equal(t, id, state.Queued["high"][0].ID)

	resp, body = ts.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, queue.LocationCancelled, decode[JobResponse](t, body).Location)

	resp, _ = ts.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/queue/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metrics := decode[queue.Metrics](t, body)
	assert.Equal(t, 1, metrics.TotalEnqueued)
	assert.Equal(t, 1, metrics.TotalCancelled)

	resp, _ = ts.do(t, http.MethodGet, "/v1/jobs/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJobs_Delete(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/jobs", CreateJobRequest{AudioURL: "https://example.com/a.mp3"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decode[JobResponse](t, body).Job.ID

	resp, _ = ts.do(t, http.MethodDelete, "/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Job not found", decode[map[string]any](t, body)["error"])

	resp, _ = ts.do(t, http.MethodDelete, "/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobs_QueueFull(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 5; i++ {
		resp, _ := ts.do(t, http.MethodPost, "/v1/jobs", CreateJobRequest{AudioURL: "https://example.com/a.mp3"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	resp, body := ts.do(t, http.MethodPost, "/v1/jobs", CreateJobRequest{AudioURL: "https://example.com/a.mp3"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Job queue is full", decode[map[string]any](t, body)["error"])
}

func TestQueue_PauseResume(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/queue/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[QueueControlResponse](t, body).Paused)
	assert.True(t, ts.app.Queue.GetState().Paused)

	resp, body = ts.do(t, http.MethodPost, "/v1/queue/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[QueueControlResponse](t, body).Paused)
	assert.False(t, ts.app.Queue.GetState().Paused)
}

func TestStorage_Routes(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPut, "/v1/storage/settings", PutValueRequest{
		Value: json.RawMessage(`{"lang":"en"}`),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	written := decode[WriteResponse](t, body)
	assert.Equal(t, "settings", written.Key)
	assert.ElementsMatch(t, []storage.Layer{storage.LayerMemory, storage.LayerSession}, written.Succeeded)

	resp, body = ts.do(t, http.MethodGet, "/v1/storage/settings?layers=session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	read := decode[storage.ReadResult](t, body)
	assert.JSONEq(t, `{"lang":"en"}`, string(read.Data))
	assert.Equal(t, storage.LayerSession, read.Source)

	resp, _ = ts.do(t, http.MethodGet, "/v1/storage/settings?layers=floppy", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/v1/storage/settings", PutValueRequest{
		Value: json.RawMessage(`1`),
		TTL:   "soon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/v1/storage/settings", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/storage/settings", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Key not found", decode[map[string]any](t, body)["error"])
}

func TestStorage_Layers(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.session.Set(ctx, "draft", []byte(`{}`)))

	resp, body := ts.do(t, http.MethodPost, "/v1/storage/layers/clear", ClearLayersRequest{Layers: []string{"session"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))
	_, ok, err := ts.session.Get(ctx, "draft")
	require.NoError(t, err)
	assert.False(t, ok)

	resp, _ = ts.do(t, http.MethodPost, "/v1/storage/layers/clear", ClearLayersRequest{Layers: []string{"sync"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPut, "/v1/storage/layers/session", ConfigureLayerRequest{Enabled: false, Priority: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	for _, st := range decode[[]storage.LayerStatus](t, body) {
		if st.Layer == storage.LayerSession {
			assert.False(t, st.Config.Enabled)
		}
	}

	resp, _ = ts.do(t, http.MethodPut, "/v1/storage/layers/floppy", ConfigureLayerRequest{Enabled: true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConflicts_DetectAndResolve(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	put := func(a storage.Adapter, data string, at time.Time) {
		raw, err := storage.EncodeRecord(storage.Record{Data: json.RawMessage(data), UpdatedAt: at})
		require.NoError(t, err)
		require.NoError(t, a.Set(ctx, "settings", raw))
	}
	now := ts.clock.Now()
	put(ts.memory, `{"lang":"en"}`, now)
	put(ts.session, `{"lang":"de"}`, now.Add(-time.Hour))

	resp, body := ts.do(t, http.MethodPost, "/v1/conflicts/detect", DetectConflictsRequest{Keys: []string{"settings"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	found := decode[ConflictListResponse](t, body)
	require.Equal(t, 1, found.Count)
	id := found.Conflicts[0].ID

	resp, body = ts.do(t, http.MethodGet, "/v1/conflicts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[ConflictListResponse](t, body).Count)

	resp, _ = ts.do(t, http.MethodPost, "/v1/conflicts/"+id+"/resolve", ResolveConflictRequest{Strategy: "coin_flip"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1/conflicts/"+id+"/manual", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1/conflicts/missing/resolve", ResolveConflictRequest{Strategy: "last_write_wins"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/v1/conflicts/"+id+"/resolve", ResolveConflictRequest{Strategy: "last_write_wins"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	resolved := decode[conflict.Conflict](t, body)
	assert.Equal(t, conflict.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.JSONEq(t, `{"lang":"en"}`, string(resolved.Resolution.Data))

	resp, body = ts.do(t, http.MethodGet, "/v1/conflicts/resolved", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[ConflictListResponse](t, body).Count)

	resp, body = ts.do(t, http.MethodGet, "/v1/conflicts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[ConflictListResponse](t, body).Count)
}
