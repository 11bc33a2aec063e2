package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/meetscribe/internal/auth"
	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "thisisasecretkeythatis32charslong!!"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MEETSCRIBE_AUTH_JWT_SECRET", testSecret)
	t.Setenv("MEETSCRIBE_SPEECH_PROVIDER", "none")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	setRequiredEnv(t)

	out, err := execute(t, "token", "--subject", "worker", "--scope", "jobs", "--ttl", "10m")
	require.NoError(t, err)

	svc, err := auth.NewTokenService(config.AuthConfig{
		JWTSecret: testSecret,
		Issuer:    "meetscribe",
	}, nil)
	require.NoError(t, err)
	claims, err := svc.Validate(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "worker", claims.Subject)
	assert.Equal(t, []string{"jobs"}, claims.Scopes)
	assert.WithinDuration(t, claims.IssuedAt.Add(10*time.Minute), claims.ExpiresAt, time.Second)
}

func TestTokenCommand_RequiresSubject(t *testing.T) {
	setRequiredEnv(t)
	_, err := execute(t, "token")
	assert.ErrorContains(t, err, "subject")
}

func TestMigrateCommand_Args(t *testing.T) {
	setRequiredEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing command", args: []string{"migrate"}, want: "accepts 1 arg"},
		{name: "unknown command", args: []string{"migrate", "sideways"}, want: "invalid argument"},
		{name: "no database", args: []string{"migrate", "up"}, want: "postgres.url is not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	t.Setenv("MEETSCRIBE_AUTH_JWT_SECRET", "short")
	_, err := execute(t, "serve")
	assert.ErrorContains(t, err, "config validation failed")
}

func TestRunHTTPServer_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	server := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runHTTPServer(ctx, server, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunHTTPServer_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}
	err = runHTTPServer(context.Background(), server, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "server failed")
}
