package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/meetscribe/internal/api/shared"
	"github.com/phrazzld/meetscribe/internal/app"
)

// HealthReporter aggregates component health.
type HealthReporter interface {
	Health(ctx context.Context) app.HealthReport
}

// HealthHandler returns the health report, with 503 when any component is
// unhealthy.
func HealthHandler(reporter HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := reporter.Health(r.Context())
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		shared.RespondWithJSON(w, r, status, report)
	}
}
