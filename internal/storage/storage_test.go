package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupabase(t *testing.T, h http.HandlerFunc) (*Supabase, *clock.Fake) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	fake := clock.NewFake(time.Unix(0, 0))
	return NewSupabase(srv.URL, "service-key", "media", zerolog.Nop()).WithClock(fake), fake
}

func TestSupabasePutRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	s, fake := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/storage/v1/object/media/renders/a.png", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "png-bytes", string(body))
		w.WriteHeader(http.StatusOK)
	})

	obj, err := s.Put(context.Background(), "renders/a.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "renders/a.png", obj.Key)
	assert.True(t, strings.HasSuffix(obj.URL, "/storage/v1/object/public/media/renders/a.png"))
	assert.Len(t, fake.Sleeps(), 2)
}

func TestSupabasePutAuthFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	s, fake := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid jwt"}`))
	})

	_, err := s.Put(context.Background(), "k", []byte("x"), "image/png")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, fake.Sleeps())
}

func TestSupabaseGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	s, _ := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := s.Put(context.Background(), "k", []byte("x"), "image/png")
	require.Error(t, err)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
	assert.True(t, apperr.Is(err, apperr.KindTransient))
}

func TestSupabaseGetAndDelete(t *testing.T) {
	s, _ := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/storage/v1/object/media/present":
			_, _ = w.Write([]byte("data"))
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodDelete:
			assert.Equal(t, "/storage/v1/object/media", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"prefixes":["staging/x.png"]}`, string(body))
			w.WriteHeader(http.StatusOK)
		}
	})

	data, err := s.Get(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(context.Background(), "staging/x.png"))
}

func TestRetryDelayCapped(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(baseRetryDelay, attempt)
		assert.LessOrEqual(t, d, maxRetryDelay+maxRetryDelay/4)
		assert.GreaterOrEqual(t, d, baseRetryDelay)
	}
}

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	deleteErr error
	ctxErrs   []error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return Object{Key: key, URL: m.URL(key)}, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memStore) URL(key string) string { return "https://cdn.test/" + key }

func TestStagerCleanupRunsAfterCancel(t *testing.T) {
	store := newMemStore()
	scope := NewStager(store, zerolog.Nop()).Scope()

	ctx, cancel := context.WithCancel(context.Background())
	a, err := scope.Stage(ctx, []byte("a"), "image/png")
	require.NoError(t, err)
	b, err := scope.Stage(ctx, []byte("b"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.URL, "https://cdn.test/staging/"))
	assert.True(t, strings.HasSuffix(b.Key, ".jpg"))
	cancel()

	require.NoError(t, scope.Cleanup(ctx))
	assert.ElementsMatch(t, []string{a.Key, b.Key}, store.deleted)
	assert.Empty(t, store.objects)
	for _, e := range store.ctxErrs {
		assert.NoError(t, e)
	}
	assert.Empty(t, scope.Keys())
	assert.NoError(t, scope.Cleanup(ctx))
}

func TestStagerCleanupReportsFailures(t *testing.T) {
	store := newMemStore()
	store.deleteErr = errors.New("boom")
	scope := NewStager(store, zerolog.Nop()).Scope()

	_, err := scope.Stage(context.Background(), []byte("a"), "image/png")
	require.NoError(t, err)
	assert.Error(t, scope.Cleanup(context.Background()))
	assert.Empty(t, scope.Keys())
}

type fakeS3 struct {
	s3iface.S3API
	puts    []*s3.PutObjectInput
	deletes []*s3.DeleteObjectInput
	getErr  error
}

func (f *fakeS3) PutObjectWithContext(_ context.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ context.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, in)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ context.Context, _ *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("payload"))}, nil
}

func TestS3Store(t *testing.T) {
	svc := &fakeS3{}
	store := NewS3(svc, "reels", "eu-west-1", zerolog.Nop())

	obj, err := store.Put(context.Background(), "renders/x/final.mp4", []byte("mp4"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://reels.s3.eu-west-1.amazonaws.com/renders/x/final.mp4", obj.URL)
	require.Len(t, svc.puts, 1)
	assert.Equal(t, "video/mp4", *svc.puts[0].ContentType)
	assert.Equal(t, int64(3), *svc.puts[0].ContentLength)

	data, err := store.Get(context.Background(), "renders/x/final.mp4")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, store.Delete(context.Background(), "renders/x/final.mp4"))
	require.Len(t, svc.deletes, 1)

	svc.getErr = awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	_, err = store.Get(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	svc.getErr = awserr.NewRequestFailure(awserr.New("AccessDenied", "denied", nil), http.StatusForbidden, "req-1")
	_, err = store.Get(context.Background(), "secret")
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestParseKindAndExtension(t *testing.T) {
	k, err := ParseKind(" MinIO ")
	require.NoError(t, err)
	assert.Equal(t, KindMinIO, k)
	_, err = ParseKind("gcs")
	assert.Error(t, err)

	assert.Equal(t, ".wav", ExtensionFor("audio/wav"))
	assert.Equal(t, ".png", ExtensionFor("image/png; charset=binary"))
	assert.Equal(t, ".bin", ExtensionFor("application/octet-stream"))
}
