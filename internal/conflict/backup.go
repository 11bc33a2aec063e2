package conflict

import (
	"context"
	"fmt"

	"github.com/phrazzld/meetscribe/internal/storage"
)

// BackupKeyPrefix prefixes the storage key of a conflict backup.
const BackupKeyPrefix = "conflict_backup:"

// Writer is the part of *storage.Coordinator the storage sink needs.
type Writer interface {
	Write(ctx context.Context, key string, value any, opts storage.WriteOptions) (storage.WriteResult, error)
}

// StorageSink keeps conflict backups in the storage layers themselves under
// conflict_backup:<conflict id>.
type StorageSink struct {
	writer Writer
	layers []storage.Layer
}

// NewStorageSink creates a StorageSink writing to layers, or to every
// enabled layer when none are given.
func NewStorageSink(writer Writer, layers ...storage.Layer) *StorageSink {
	return &StorageSink{writer: writer, layers: layers}
}

// Backup writes every version of c and returns the backup key.
func (s *StorageSink) Backup(ctx context.Context, c *Conflict) (string, error) {
	key := BackupKeyPrefix + c.ID
	if _, err := s.writer.Write(ctx, key, c, storage.WriteOptions{Layers: s.layers}); err != nil {
		return "", fmt.Errorf("failed to store backup %s: %w", key, err)
	}
	return key, nil
}

var _ BackupSink = (*StorageSink)(nil)
