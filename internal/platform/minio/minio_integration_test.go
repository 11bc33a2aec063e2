//go:build integration

package minio

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/phrazzld/meetscribe/internal/conflict"
	"github.com/phrazzld/meetscribe/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_IntegrationBackup(t *testing.T) {
	endpoint := testdb.RequireEnv(t, testdb.MinioURLVars...)
	access := os.Getenv("MINIO_ACCESS_KEY")
	secret := os.Getenv("MINIO_SECRET_KEY")
	if access == "" {
		access, secret = "minioadmin", "minioadmin"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sink, err := New(Config{
		Endpoint:  endpoint,
		AccessKey: access,
		SecretKey: secret,
		Bucket:    "meetscribe-it-" + uuid.NewString()[:8],
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, sink.EnsureBucket(ctx))
	require.NoError(t, sink.EnsureBucket(ctx), "second call sees the existing bucket")

	c := &conflict.Conflict{ID: uuid.NewString(), Key: "settings", Status: conflict.StatusPending}
	ref, err := sink.Backup(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "s3://"+sink.bucket+"/"+ObjectName(c.ID), ref)

	client := sink.client.(*minio.Client)
	obj, err := client.GetObject(ctx, sink.bucket, ObjectName(c.ID), minio.GetObjectOptions{})
	require.NoError(t, err)
	defer obj.Close()
	var got conflict.Conflict
	require.NoError(t, json.NewDecoder(obj).Decode(&got))
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "settings", got.Key)
}
