package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theMackabu/volt/internal/events"
	"github.com/theMackabu/volt/internal/store"
)

const testToken = "s3cret"

type recorder struct {
	mu     sync.Mutex
	pushed []events.Pushed
}

func (r *recorder) PublishPushed(_ context.Context, e events.Pushed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, e)
	return nil
}

func newTestServer(t *testing.T, backend store.Store, cfg Config) http.Handler {
	t.Helper()
	if backend == nil {
		local, err := store.NewLocalStore(t.TempDir(), 0)
		require.NoError(t, err)
		backend = local
	}
	if cfg.Token == "" {
		cfg.Token = testToken
	}
	cfg.Logger = zerolog.Nop()
	s, err := New(store.NewSlots(backend), cfg)
	require.NoError(t, err)
	return s.Routes()
}

func do(t *testing.T, h http.Handler, method, path, fp string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if fp != "" {
		req.Header.Set(HashHeader, fp)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Token: "x"})
	require.Error(t, err)

	local, err := store.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)
	_, err = New(store.NewSlots(local), Config{})
	require.Error(t, err)
}

func TestAuthentication(t *testing.T) {
	h := newTestServer(t, nil, Config{})
	slot := uuid.NewString()

	paths := []struct{ method, path string }{
		{http.MethodPost, "/push/" + slot},
		{http.MethodGet, "/pull/" + slot},
		{http.MethodGet, "/check/" + slot},
		{http.MethodGet, "/health/" + slot},
		{http.MethodGet, "/metrics"},
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic czNjcmV0", http.StatusUnauthorized},
		{"lowercase scheme", "bearer " + testToken, http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusForbidden},
		{"empty token", "Bearer ", http.StatusForbidden},
	}

	for _, tt := range tests {
		for _, p := range paths {
			t.Run(tt.name+" "+p.path, func(t *testing.T) {
				req := httptest.NewRequest(p.method, p.path, strings.NewReader("data"))
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				req.Header.Set(HashHeader, "abc")
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				assert.Equal(t, tt.want, rec.Code)
			})
		}
	}
}

// countingStore records every backend call.
type countingStore struct {
	store.Store
	calls atomic.Int32
}

func (c *countingStore) Put(ctx context.Context, slot uuid.UUID, r io.Reader, fp string) (int64, error) {
	c.calls.Add(1)
	return c.Store.Put(ctx, slot, r, fp)
}

func (c *countingStore) Fingerprint(ctx context.Context, slot uuid.UUID) (string, error) {
	c.calls.Add(1)
	return c.Store.Fingerprint(ctx, slot)
}

func (c *countingStore) Open(ctx context.Context, slot uuid.UUID) (io.ReadCloser, int64, error) {
	c.calls.Add(1)
	return c.Store.Open(ctx, slot)
}

func TestInvalidSlot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	local, err := store.NewLocalStore(root, 0)
	require.NoError(t, err)
	backend := &countingStore{Store: local}
	h := newTestServer(t, backend, Config{})

	for _, path := range []string{"/push/not-a-uuid", "/pull/not-a-uuid", "/check/not-a-uuid", "/pull/..%2F..%2Fetc"} {
		method := http.MethodGet
		if strings.HasPrefix(path, "/push") {
			method = http.MethodPost
		}
		rec := do(t, h, method, path, "abc", strings.NewReader("x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	assert.Zero(t, backend.calls.Load(), "backend untouched")
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil, Config{})
	slot := uuid.NewString()

	rec := do(t, h, http.MethodGet, "/health/"+slot, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, slot, rec.Body.String())
}

func TestPushPullCheck(t *testing.T) {
	pub := &recorder{}
	h := newTestServer(t, nil, Config{Events: pub})
	slot := uuid.NewString()

	rec := do(t, h, http.MethodGet, "/pull/"+slot, "abc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/check/"+slot, "abc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/push/"+slot, "abc", strings.NewReader("archive"))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, pub.pushed, 1)
	assert.Equal(t, slot, pub.pushed[0].Slot)
	assert.Equal(t, "abc", pub.pushed[0].Fingerprint)
	assert.EqualValues(t, len("archive"), pub.pushed[0].Size)

	rec = do(t, h, http.MethodGet, "/pull/"+slot, "abc", nil)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/pull/"+slot, " abc\n", nil)
	assert.Equal(t, http.StatusNotModified, rec.Code, "request fingerprint is trimmed")

	rec = do(t, h, http.MethodGet, "/pull/"+slot, "different", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "archive", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/check/"+slot, "abc", nil)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	rec = do(t, h, http.MethodGet, "/check/"+slot, "different", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPushOverwrites(t *testing.T) {
	h := newTestServer(t, nil, Config{})
	slot := uuid.NewString()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/push/"+slot, "h1", strings.NewReader("one")).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/push/"+slot, "h2", strings.NewReader("two")).Code)

	rec := do(t, h, http.MethodGet, "/pull/"+slot, "h1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "two", rec.Body.String())
	assert.Equal(t, http.StatusNotModified, do(t, h, http.MethodGet, "/pull/"+slot, "h2", nil).Code)
}

func TestMissingHashHeader(t *testing.T) {
	h := newTestServer(t, nil, Config{})
	slot := uuid.NewString()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/pull/"+slot, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/check/"+slot, "", nil).Code)

	// push accepts a missing fingerprint and stores an empty one
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/push/"+slot, "", strings.NewReader("x")).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/pull/"+slot, "abc", nil).Code)
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestPushBodyError(t *testing.T) {
	h := newTestServer(t, nil, Config{})
	rec := do(t, h, http.MethodPost, "/push/"+uuid.NewString(), "abc", brokenBody{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingStore struct{}

func (failingStore) Put(context.Context, uuid.UUID, io.Reader, string) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingStore) Fingerprint(context.Context, uuid.UUID) (string, error) {
	return "", errors.New("permission denied")
}

func (failingStore) Open(context.Context, uuid.UUID) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("permission denied")
}

func TestStorageErrors(t *testing.T) {
	h := newTestServer(t, failingStore{}, Config{})
	slot := uuid.NewString()

	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/push/"+slot, "abc", strings.NewReader("x")).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/pull/"+slot, "abc", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/check/"+slot, "abc", nil).Code)
}

func TestMetrics(t *testing.T) {
	h := newTestServer(t, nil, Config{})
	slot := uuid.NewString()
	do(t, h, http.MethodPost, "/push/"+slot, "abc", strings.NewReader("archive"))
	do(t, h, http.MethodGet, "/pull/"+slot, "abc", nil)

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `volt_requests_total{code="200",route="/push/{slot}"} 1`)
	assert.Contains(t, body, `volt_lookups_total{route="pull",status="unchanged"} 1`)
	assert.Contains(t, body, "volt_pushed_bytes_total 7")
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, nil, Config{RateLimit: 1})
	path := "/health/" + uuid.NewString()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, path, "", nil).Code)
}

func TestEndToEndOverHTTP(t *testing.T) {
	local, err := store.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)
	s, err := New(store.NewSlots(local), Config{Token: testToken, Logger: zerolog.Nop()})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	slot := uuid.NewString()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/push/"+slot, strings.NewReader("payload"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set(HashHeader, "h")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/pull/"+slot, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set(HashHeader, "other")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(data))
}
