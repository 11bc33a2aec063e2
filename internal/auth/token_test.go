package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

func newTestService(t *testing.T, secret, issuer string, clock clockwork.Clock) *TokenService {
	t.Helper()
	svc, err := NewTokenService(config.AuthConfig{
		JWTSecret:     secret,
		Issuer:        issuer,
		TokenLifetime: time.Hour,
	}, clock)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_RejectsShortSecret(t *testing.T) {
	t.Parallel()
	_, err := NewTokenService(config.AuthConfig{JWTSecret: "short"}, nil)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestIssue_RoundTrip(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, testSecret, "meetscribe", clockwork.NewFakeClockAt(fixed))

	token, err := svc.Issue(context.Background(), "worker", 0, "jobs:write")
	require.NoError(t, err)

	claims, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "worker", claims.Subject)
	assert.Equal(t, "meetscribe", claims.Issuer)
	assert.Equal(t, fixed.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixed.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.HasScope("jobs:write"))
	assert.False(t, claims.HasScope("storage:write"))
}

func TestIssue_RequiresSubject(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, testSecret, "meetscribe", clockwork.NewFakeClock())
	_, err := svc.Issue(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		setup   func() (*TokenService, string)
		wantErr error
	}{
		{
			name: "valid token",
			setup: func() (*TokenService, string) {
				svc := newTestService(t, testSecret, "meetscribe", clockwork.NewFakeClockAt(fixed))
				token, _ := svc.Issue(context.Background(), "cli", 0)
				return svc, token
			},
		},
		{
			name: "expired token",
			setup: func() (*TokenService, string) {
				clock := clockwork.NewFakeClockAt(fixed)
				svc := newTestService(t, testSecret, "meetscribe", clock)
				token, _ := svc.Issue(context.Background(), "cli", 0)
				clock.Advance(2 * time.Hour)
				return svc, token
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "within clock skew",
			setup: func() (*TokenService, string) {
				clock := clockwork.NewFakeClockAt(fixed)
				svc := newTestService(t, testSecret, "meetscribe", clock)
				token, _ := svc.Issue(context.Background(), "cli", 0)
				clock.Advance(time.Hour + time.Minute)
				return svc, token
			},
		},
		{
			name: "invalid signature",
			setup: func() (*TokenService, string) {
				gen := newTestService(t, testSecret, "meetscribe", clockwork.NewFakeClockAt(fixed))
				token, _ := gen.Issue(context.Background(), "cli", 0)
				return newTestService(t, "wrong-secret-that-is-long-enough-for-testing", "meetscribe", clockwork.NewFakeClockAt(fixed)), token
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			setup: func() (*TokenService, string) {
				gen := newTestService(t, testSecret, "staging", clockwork.NewFakeClockAt(fixed))
				token, _ := gen.Issue(context.Background(), "cli", 0)
				return newTestService(t, testSecret, "meetscribe", clockwork.NewFakeClockAt(fixed)), token
			},
			wantErr: ErrWrongIssuer,
		},
		{
			name: "malformed token",
			setup: func() (*TokenService, string) {
				return newTestService(t, testSecret, "meetscribe", clockwork.NewFakeClockAt(fixed)), "this.is.not.a.valid.jwt.token"
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, token := tt.setup()
			claims, err := svc.Validate(context.Background(), token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "cli", claims.Subject)
		})
	}
}
