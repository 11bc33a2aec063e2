package testdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "none_set", want: ""},
		{name: "first_wins", env: map[string]string{"DATABASE_URL": "a", "MEETSCRIBE_TEST_DB_URL": "b"}, want: "a"},
		{name: "fallback", env: map[string]string{"MEETSCRIBE_TEST_DB_URL": "b"}, want: "b"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, v := range DatabaseURLVars {
				t.Setenv(v, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tc.want, LookupEnv(DatabaseURLVars...))
		})
	}
}

func TestIsCIEnvironment(t *testing.T) {
	for _, v := range ciVars {
		t.Setenv(v, "")
	}
	assert.False(t, IsCIEnvironment())

	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, IsCIEnvironment())
}

func TestRequireEnv_ReturnsValue(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	assert.Equal(t, "localhost:6379", RequireEnv(t, RedisAddrVars...))
}
