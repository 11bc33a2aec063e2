package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/store"
)

// TableName is the key/value table created by the migrations.
const TableName = "storage_records"

// Config holds connection settings.
type Config struct {
	URL          string
	MaxOpenConns int
}

// Open connects to PostgreSQL and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is empty: check your configuration")
	}
	logger = logger.With("component", "postgres", "url", MaskDatabaseURL(cfg.URL))

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to open database connection: %w (check connection string format and credentials)",
			err,
		)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		logger.Error("Database ping failed", "error", err)

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf(
				"database ping timed out after 5s: %w (check network connectivity, firewall rules, and server load)",
				err,
			)
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf(
				"network error connecting to database: %w (check hostname, port, and network connectivity)",
				err,
			)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Database connection established", "max_open_conns", maxOpen)
	return db, nil
}

// NewAdapter returns the sync tier adapter over db. Driver errors are mapped
// onto store errors.
func NewAdapter(db *sql.DB, clock clockwork.Clock, logger *slog.Logger) *store.KV {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return store.NewKV(db, store.PostgresQueries(TableName),
		logger.With("component", "postgres_adapter"),
		store.WithErrorMapper(MapError),
		store.WithClock(clock))
}

// MaskDatabaseURL hides the password in a connection URL for logging.
func MaskDatabaseURL(dbURL string) string {
	parsedURL, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		parsedURL.User = url.UserPassword(username, "****")
		return parsedURL.String()
	}
	return dbURL
}
