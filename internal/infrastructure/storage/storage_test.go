package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/erp/payalloc/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tenant = uuid.MustParse("7f1d2c3b-4a5e-4f60-8a71-92b3c4d5e6f7")

func TestObjectKey(t *testing.T) {
	assert.Equal(t, tenant.String()+"/BATCH-20240601-001/may.csv",
		ObjectKey("", tenant, "BATCH-20240601-001", "may.csv"))
	assert.Equal(t, "batches/"+tenant.String()+"/BATCH-20240601-001/may.xlsx",
		ObjectKey("batches", tenant, "BATCH-20240601-001", `C:\uploads\may.xlsx`))
	assert.Equal(t, tenant.String()+"/B/source", ObjectKey("", tenant, "B", ""))
	assert.Equal(t, tenant.String()+"/B/passwd", ObjectKey("", tenant, "B", "../../etc/passwd"))
}

func TestNewS3SourceArchiver_Validation(t *testing.T) {
	_, err := NewS3SourceArchiver(nil)
	assert.ErrorContains(t, err, "configuration is required")

	_, err = NewS3SourceArchiver(&config.StorageConfig{AccessKeyID: "k", SecretAccessKey: "s"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewS3SourceArchiver(&config.StorageConfig{Bucket: "b", AccessKeyID: "k"})
	assert.ErrorContains(t, err, "credentials are required")

	a, err := NewS3SourceArchiver(&config.StorageConfig{
		Bucket: "archive", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "minio:9000", KeyPrefix: "/batches/",
	})
	require.NoError(t, err)
	assert.Equal(t, "archive", a.Bucket())
	assert.Equal(t, "batches", a.prefix)
}

func TestS3SourceArchiver_Archive(t *testing.T) {
	var (
		mu       sync.Mutex
		method   string
		gotPath  string
		metaHead string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, gotPath, metaHead = r.Method, r.URL.Path, r.Header.Get("X-Amz-Meta-Batch-Number")
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewS3SourceArchiver(&config.StorageConfig{
		Bucket: "archive", AccessKeyID: "k", SecretAccessKey: "s",
		Endpoint: srv.URL, UsePathStyle: true,
	})
	require.NoError(t, err)

	key, err := a.Archive(context.Background(), tenant, "BATCH-20240601-001", "may.csv", "text/csv", []byte("amount\n10\n"))
	require.NoError(t, err)
	assert.Equal(t, tenant.String()+"/BATCH-20240601-001/may.csv", key)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/archive/"+key, gotPath)
	assert.Equal(t, "BATCH-20240601-001", metaHead)
}

func TestS3SourceArchiver_ArchiveError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a, err := NewS3SourceArchiver(&config.StorageConfig{
		Bucket: "archive", AccessKeyID: "k", SecretAccessKey: "s",
		Endpoint: srv.URL, UsePathStyle: true,
	})
	require.NoError(t, err)

	_, err = a.Archive(context.Background(), tenant, "B", "x.csv", "", []byte("x"))
	assert.ErrorContains(t, err, "failed to archive")
}

func TestMemoryArchiver(t *testing.T) {
	m := NewMemoryArchiver()
	ctx := context.Background()

	src := []byte("a,b\n1,2\n")
	key, err := m.Archive(ctx, tenant, "BATCH-1", "in.csv", "text/csv", src)
	require.NoError(t, err)
	src[0] = 'z'

	got, err := m.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))
	assert.Equal(t, 1, m.Len())

	_, err = m.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
