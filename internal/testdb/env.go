package testdb

import (
	"os"
	"testing"
)

// Environment variables consulted for service URLs, in order of preference.
var (
	DatabaseURLVars = []string{"DATABASE_URL", "MEETSCRIBE_TEST_DB_URL"}
	RedisAddrVars   = []string{"REDIS_ADDR", "MEETSCRIBE_TEST_REDIS_ADDR"}
	MinioURLVars    = []string{"MINIO_ENDPOINT", "MEETSCRIBE_TEST_MINIO_ENDPOINT"}
)

var ciVars = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"JENKINS_URL",
	"CIRCLECI",
}

// IsCIEnvironment reports whether the tests run under a CI system.
func IsCIEnvironment() bool {
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

// LookupEnv returns the first non-empty value among vars.
func LookupEnv(vars ...string) string {
	for _, v := range vars {
		if val := os.Getenv(v); val != "" {
			return val
		}
	}
	return ""
}

// RequireEnv returns the first non-empty value among vars. When none is set
// the test is skipped locally and failed in CI.
func RequireEnv(t testing.TB, vars ...string) string {
	t.Helper()
	if val := LookupEnv(vars...); val != "" {
		return val
	}
	if IsCIEnvironment() {
		t.Fatalf("none of %v set in CI environment", vars)
	}
	t.Skipf("none of %v set - skipping integration test", vars)
	return ""
}

// AMQPURLVars name the RabbitMQ URL for broadcast transport tests.
var AMQPURLVars = []string{"AMQP_URL", "MEETSCRIBE_TEST_AMQP_URL"}
