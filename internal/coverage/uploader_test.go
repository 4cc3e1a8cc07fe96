package coverage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
)

func testReports(t *testing.T) []Report {
	t.Helper()
	ws := t.TempDir()
	writeFile(t, ws, "coverage.xml", `<?xml version="1.0"?><coverage/>`)
	reports, err := Discover(ws, nil)
	require.NoError(t, err)
	return reports
}

func testRequest(t *testing.T, reports []Report) *UploadRequest {
	t.Helper()
	return &UploadRequest{
		Files: reports,
		Flags: []string{"unit", "py3.9"},
		Token: "sekret-token",
		Meta: Meta{
			RunID:    "run-1",
			Workflow: "CI",
			Job:      "test (3.9, ubuntu-latest)",
			SHA:      "abc123",
			Ref:      "refs/heads/main",
		},
	}
}

func TestUpload(t *testing.T) {
	var gotAuth string
	var gotMeta Meta
	var gotFlags []string
	var gotReports []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(10<<20))
		require.NoError(t, jsonutil.UnmarshalString(r.FormValue("meta"), &gotMeta))
		gotFlags = r.MultipartForm.Value["flags"]
		for _, fh := range r.MultipartForm.File["report"] {
			gotReports = append(gotReports, fh.Filename)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewUploader(Config{URL: srv.URL, Backoff: time.Millisecond})
	res, err := u.Upload(context.Background(), testRequest(t, testReports(t)))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "Bearer sekret-token", gotAuth)
	assert.Equal(t, "CI", gotMeta.Workflow)
	assert.Equal(t, "run-1", gotMeta.RunID)
	assert.Equal(t, []string{"unit", "py3.9"}, gotFlags)
	assert.Equal(t, []string{"coverage.xml"}, gotReports)
}

func TestUploadWithoutToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	req := testRequest(t, testReports(t))
	req.Token = ""
	u := NewUploader(Config{URL: srv.URL, Backoff: time.Millisecond})
	res, err := u.Upload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Empty(t, gotAuth)
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewUploader(Config{URL: srv.URL, Backoff: time.Millisecond})
	res, err := u.Upload(context.Background(), testRequest(t, testReports(t)))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewUploader(Config{URL: srv.URL, Backoff: time.Minute})
	start := time.Now()
	res, err := u.Upload(context.Background(), testRequest(t, testReports(t)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	// A one-minute backoff would blow this budget; Retry-After: 0 must win.
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestUploadClientErrorFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	u := NewUploader(Config{URL: srv.URL, Backoff: time.Millisecond})
	_, err := u.Upload(context.Background(), testRequest(t, testReports(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := NewUploader(Config{URL: srv.URL, Attempts: 2, Backoff: time.Millisecond})
	_, err := u.Upload(context.Background(), testRequest(t, testReports(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestUploadNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	u := NewUploader(Config{URL: url, Attempts: 2, Backoff: time.Millisecond})
	_, err := u.Upload(context.Background(), testRequest(t, testReports(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestUploadValidation(t *testing.T) {
	u := NewUploader(Config{})
	_, err := u.Upload(context.Background(), testRequest(t, testReports(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is not configured")

	u = NewUploader(Config{URL: "http://localhost:1"})
	_, err = u.Upload(context.Background(), &UploadRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no coverage reports")
}

func TestUploadCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := NewUploader(Config{URL: srv.URL, Backoff: time.Millisecond})
	_, err := u.Upload(ctx, testRequest(t, testReports(t)))
	require.ErrorIs(t, err, context.Canceled)
}
