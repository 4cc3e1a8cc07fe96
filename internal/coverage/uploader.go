package coverage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/logger"
)

const (
	// DefaultAttempts is the upload attempt budget including the first try.
	DefaultAttempts = 3

	// DefaultBackoff is the first retry delay, doubled on each further retry.
	DefaultBackoff = 2 * time.Second

	// DefaultTimeout bounds a single upload request.
	DefaultTimeout = 30 * time.Second
)

// Config configures the Uploader.
type Config struct {
	// URL is the upload endpoint. Uploads fail until it is set, either here
	// or per request.
	URL string

	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Meta describes the run a set of reports belongs to. It is sent as the
// "meta" part of the upload.
type Meta struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	Job      string `json:"job"`
	SHA      string `json:"sha,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

// UploadRequest is one batch of coverage reports to send.
type UploadRequest struct {
	Files []Report
	Flags []string
	Token string
	Meta  Meta

	// URL overrides the configured endpoint when set.
	URL string
}

// UploadResult reports a finished upload.
type UploadResult struct {
	StatusCode int    `json:"status_code"`
	Attempts   int    `json:"attempts"`
	Body       string `json:"body,omitempty"`
}

// Uploader POSTs coverage reports as one multipart request per upload: one
// part per report plus a JSON meta part. Transient failures are retried with
// exponential backoff.
type Uploader struct {
	cfg    Config
	client *fasthttp.Client
	log    *zap.Logger
}

// NewUploader creates an Uploader, filling unset config fields with the
// defaults.
func NewUploader(cfg Config) *Uploader {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Uploader{
		cfg: cfg,
		client: &fasthttp.Client{
			MaxConnsPerHost: 16,
			ReadTimeout:     cfg.Timeout,
			WriteTimeout:    cfg.Timeout,
		},
		log: logger.Named("coverage"),
	}
}

// Upload sends the request's reports, retrying on network errors, 5xx and
// 429 responses. Other 4xx responses fail immediately.
func (u *Uploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	url := req.URL
	if url == "" {
		url = u.cfg.URL
	}
	if url == "" {
		return nil, fmt.Errorf("coverage upload url is not configured")
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("no coverage reports to upload")
	}

	body, contentType, err := buildBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= u.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, respBody, retryAfter, err := u.do(url, body, contentType, req.Token)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("coverage upload request failed: %w", err)
		case status >= 200 && status < 300:
			u.log.Debug("coverage uploaded",
				zap.Int("reports", len(req.Files)),
				zap.Int("status", status),
				zap.Int("attempt", attempt))
			return &UploadResult{StatusCode: status, Attempts: attempt, Body: respBody}, nil
		case status == fasthttp.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("coverage upload rejected with status %d: %s", status, excerpt(respBody))
		default:
			return nil, fmt.Errorf("coverage upload rejected with status %d: %s", status, excerpt(respBody))
		}

		if attempt == u.cfg.Attempts {
			break
		}
		wait := u.cfg.Backoff << (attempt - 1)
		if status == fasthttp.StatusTooManyRequests {
			if d, ok := parseRetryAfter(retryAfter); ok {
				wait = d
			}
		}
		u.log.Warn("coverage upload failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(lastErr))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("coverage upload failed after %d attempts: %w", u.cfg.Attempts, lastErr)
}

func (u *Uploader) do(url string, body []byte, contentType, token string) (int, string, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(url)
	req.Header.SetContentType(contentType)
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	req.SetBodyRaw(body)

	if err := u.client.DoDeadline(req, resp, time.Now().Add(u.cfg.Timeout)); err != nil {
		return 0, "", "", err
	}

	respBody := string(resp.Body())
	retryAfter := string(resp.Header.Peek(fasthttp.HeaderRetryAfter))
	return resp.StatusCode(), respBody, retryAfter, nil
}

// buildBody renders the multipart payload once so every retry sends
// identical bytes.
func buildBody(req *UploadRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaJSON, err := jsonutil.MarshalString(req.Meta)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode upload meta: %w", err)
	}
	if err := w.WriteField("meta", metaJSON); err != nil {
		return nil, "", err
	}
	for _, flag := range req.Flags {
		if err := w.WriteField("flags", flag); err != nil {
			return nil, "", err
		}
	}

	for _, rep := range req.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="report"; filename=%q`, rep.Name))
		h.Set("Content-Type", "application/octet-stream")
		h.Set("X-Coverage-Format", string(rep.Format))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		f, err := os.Open(rep.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open coverage report %s: %w", rep.Path, err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read coverage report %s: %w", rep.Path, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func excerpt(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
