package minio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/phrazzld/meetscribe/internal/conflict"
	"github.com/phrazzld/meetscribe/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
	uploaded []byte
}

func (m *mockStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.Called(bucket).Error(0)
}

func (m *mockStore) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	m.uploaded = body
	args := m.Called(bucket, object, size, opts.ContentType)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, args.Error(0)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: "  "}, discard)
	assert.ErrorIs(t, err, ErrEndpointRequired)
}

func TestSink_EnsureBucket(t *testing.T) {
	tests := []struct {
		name    string
		exists  bool
		make    bool
		makeErr error
		wantErr bool
	}{
		{name: "already exists", exists: true},
		{name: "created", make: true},
		{name: "create fails", make: true, makeErr: errors.New("access denied"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			store.On("BucketExists", DefaultBucket).Return(tt.exists, nil)
			if tt.make {
				store.On("MakeBucket", DefaultBucket).Return(tt.makeErr)
			}
			err := newSink(store, "", discard).EnsureBucket(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestSink_Backup(t *testing.T) {
	c := &conflict.Conflict{
		ID:  "c-1",
		Key: "job:42",
		Versions: []conflict.Version{
			{VersionID: "v1", SourceLayer: storage.LayerMemory},
			{VersionID: "v2", SourceLayer: storage.LayerSync},
		},
	}

	store := new(mockStore)
	store.On("PutObject", "backups", "conflicts/c-1.json", mock.Anything, "application/json").Return(nil)

	ref, err := newSink(store, "backups", discard).Backup(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "s3://backups/conflicts/c-1.json", ref)

	var got conflict.Conflict
	require.NoError(t, json.Unmarshal(store.uploaded, &got))
	assert.Equal(t, "job:42", got.Key)
	assert.Len(t, got.Versions, 2)
}

func TestSink_BackupUploadError(t *testing.T) {
	store := new(mockStore)
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("timeout"))

	_, err := newSink(store, "", discard).Backup(context.Background(), &conflict.Conflict{ID: "c-2"})
	assert.ErrorContains(t, err, "timeout")
}
