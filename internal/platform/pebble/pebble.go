package pebble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrPathRequired is returned by Open when no directory is configured.
var ErrPathRequired = errors.New("pebble: data directory is required")

const (
	recordPrefix = "k/"
	// recordEnd is the first key after every record key.
	recordEnd = "k0"
)

// Options configures the adapter.
type Options struct {
	// Path is the database directory.
	Path string
	// Sync forces a WAL sync on every write. When false writes are grouped
	// with a short sync interval.
	Sync bool
	// FS overrides the filesystem; tests use vfs.NewMem().
	FS vfs.FS
}

// Adapter is the local tier storage adapter.
type Adapter struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	logger    *slog.Logger
}

// Open creates or opens the database at opts.Path.
func Open(opts Options, logger *slog.Logger) (*Adapter, error) {
	if opts.Path == "" {
		return nil, ErrPathRequired
	}

	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	writeOpts := pebble.Sync
	if !opts.Sync {
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
		writeOpts = pebble.NoSync
	}

	db, err := pebble.Open(opts.Path, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database at %s: %w", opts.Path, err)
	}
	logger = logger.With("component", "pebble_adapter")
	logger.Info("Pebble storage opened", "path", opts.Path, "sync", opts.Sync)
	return &Adapter{db: db, writeOpts: writeOpts, logger: logger}, nil
}

func recordKey(key string) []byte {
	return []byte(recordPrefix + key)
}

// Get copies the value stored under key.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, closer, err := a.db.Get(recordKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get %q: %w", key, err)
	}
	defer func() { _ = closer.Close() }()
	return append([]byte(nil), val...), true, nil
}

// Set stores value under key.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	if err := a.db.Set(recordKey(key), value, a.writeOpts); err != nil {
		return fmt.Errorf("pebble set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := a.db.Delete(recordKey(key), a.writeOpts); err != nil {
		return fmt.Errorf("pebble delete %q: %w", key, err)
	}
	return nil
}

// Clear deletes every record.
func (a *Adapter) Clear(ctx context.Context) error {
	if err := a.db.DeleteRange([]byte(recordPrefix), []byte(recordEnd), a.writeOpts); err != nil {
		return fmt.Errorf("pebble clear: %w", err)
	}
	a.logger.Info("local storage cleared")
	return nil
}

// Keys lists every stored key in order.
func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(recordPrefix),
		UpperBound: []byte(recordEnd),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iterate: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, string(iter.Key()[len(recordPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble iterate: %w", err)
	}
	return keys, nil
}

// Close flushes and closes the database.
func (a *Adapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
