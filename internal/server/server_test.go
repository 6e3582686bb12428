package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/toricodesthings/image-ocr-service/internal/config"
	"github.com/toricodesthings/image-ocr-service/internal/summarize"
	"github.com/toricodesthings/image-ocr-service/internal/types"
)

const indexHTML = "<!doctype html><title>imgocr</title>"

// widthEngine "recognises" an image as its pixel width.
type widthEngine struct{}

func (widthEngine) Name() string { return "width" }

func (widthEngine) Recognize(_ context.Context, data []byte) (string, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if cfg.Width == 1 {
		return "", nil
	}
	return fmt.Sprintf("width %d\n", cfg.Width), nil
}

type summarizerFunc func(ctx context.Context, text string) (string, error)

func (f summarizerFunc) Forward(ctx context.Context, text string) (string, error) { return f(ctx, text) }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexHTML), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	return config.Config{
		Port:                  "0",
		StaticDir:             dir,
		WebhookTimeout:        time.Second,
		OCREngine:             "cli",
		MaxUploadBytes:        10 << 20,
		MaxJSONBodyBytes:      1 << 20,
		MaxConcurrentRequests: 4,
		RateLimitEvery:        time.Millisecond,
		RateLimitBurst:        1000,
		HealthDegradeRatio:    0.9,
		CORSAllowedOrigins:    []string{"*"},
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T, cfg config.Config, sum Summarizer) *Server {
	t.Helper()
	if sum == nil {
		sum = summarize.New(cfg.WebhookURL, cfg.WebhookTimeout)
	}
	return New(cfg, quietLogger(), widthEngine{}, sum)
}

func pngBytes(t *testing.T, width int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, 5))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type upload struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, field string, files []upload) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		fw, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var out types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestIndex(t *testing.T) {
	h := newTestServer(t, testConfig(t), nil).Handler()

	for _, target := range []string{"/", "/?lang=en&x=1"} {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, rec.Code)
		}
		if rec.Body.String() != indexHTML {
			t.Fatalf("%s: body = %q", target, rec.Body.String())
		}
	}

	if rec := do(t, h, httptest.NewRequest(http.MethodGet, "/other", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("/other: status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, httptest.NewRequest(http.MethodPost, "/", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /: status = %d, want 405", rec.Code)
	}
}

func TestProcessImageValidation(t *testing.T) {
	h := newTestServer(t, testConfig(t), nil).Handler()

	eleven := make([]upload, 11)
	for i := range eleven {
		eleven[i] = upload{name: fmt.Sprintf("%d.png", i), data: pngBytes(t, 2)}
	}

	emptySelection := func() (*bytes.Buffer, string) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="files"; filename=""`)
		hdr.Set("Content-Type", "application/octet-stream")
		if _, err := mw.CreatePart(hdr); err != nil {
			t.Fatalf("create part: %v", err)
		}
		_ = mw.Close()
		return &body, mw.FormDataContentType()
	}

	tests := []struct {
		name    string
		build   func() (*bytes.Buffer, string)
		wantMsg string
	}{
		{
			name:    "not multipart",
			build:   func() (*bytes.Buffer, string) { return bytes.NewBufferString("{}"), "application/json" },
			wantMsg: "No files part",
		},
		{
			name:    "other field",
			build:   func() (*bytes.Buffer, string) { return multipartBody(t, "image", []upload{{"a.png", pngBytes(t, 2)}}) },
			wantMsg: "No files part",
		},
		{
			name:    "empty selection",
			build:   emptySelection,
			wantMsg: "No files selected",
		},
		{
			name:    "eleven files",
			build:   func() (*bytes.Buffer, string) { return multipartBody(t, "files", eleven) },
			wantMsg: "You can upload a maximum of 10 images",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := tt.build()
			req := httptest.NewRequest(http.MethodPost, "/process-image", body)
			req.Header.Set("Content-Type", ct)

			rec := do(t, h, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec).Error; got != tt.wantMsg {
				t.Fatalf("error = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestProcessImageSuccess(t *testing.T) {
	h := newTestServer(t, testConfig(t), nil).Handler()

	files := []upload{
		{"first.png", pngBytes(t, 30)},
		{"blank.png", pngBytes(t, 1)},
		{"third.png", pngBytes(t, 10)},
	}
	body, ct := multipartBody(t, "files", files)
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)

	rec := do(t, h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var out types.ExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "width 30\n\n\n\nwidth 10"
	if out.ExtractedText != want {
		t.Fatalf("extracted_text = %q, want %q", out.ExtractedText, want)
	}
}

func TestProcessImageTenFiles(t *testing.T) {
	h := newTestServer(t, testConfig(t), nil).Handler()

	files := make([]upload, 10)
	for i := range files {
		files[i] = upload{name: fmt.Sprintf("%d.png", i), data: pngBytes(t, i+2)}
	}
	body, ct := multipartBody(t, "files", files)
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)

	rec := do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var out types.ExtractResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if blocks := strings.Split(out.ExtractedText, "\n\n"); len(blocks) != 10 || blocks[0] != "width 2" || blocks[9] != "width 11" {
		t.Fatalf("unexpected blocks: %q", blocks)
	}
}

func TestProcessImageBadFile(t *testing.T) {
	h := newTestServer(t, testConfig(t), nil).Handler()

	body, ct := multipartBody(t, "files", []upload{
		{"good.png", pngBytes(t, 4)},
		{"broken.jpg", []byte("not really a jpeg")},
	})
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)

	rec := do(t, h, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	msg := decodeError(t, rec).Error
	if !strings.Contains(msg, "broken.jpg") || !strings.HasPrefix(msg, "Error processing file:") {
		t.Fatalf("error = %q, want file name", msg)
	}
	if strings.Contains(rec.Body.String(), "extracted_text") {
		t.Fatalf("partial output leaked: %s", rec.Body.String())
	}
}

func TestProcessImageTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadBytes = 512
	h := newTestServer(t, cfg, nil).Handler()

	body, ct := multipartBody(t, "files", []upload{{"big.png", bytes.Repeat([]byte("x"), 4096)}})
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)

	if rec := do(t, h, req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestSendToMake(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.SummaryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Text == "fail" {
			http.Error(w, "scenario error", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"summary":"hi"}`)
	}))
	defer webhook.Close()

	cfg := testConfig(t)
	cfg.WebhookURL = webhook.URL
	h := newTestServer(t, cfg, nil).Handler()

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantSummary string
		wantError   string
		wantDetails bool
	}{
		{"empty text", `{"text":""}`, http.StatusBadRequest, "", "No text provided", false},
		{"missing text", `{}`, http.StatusBadRequest, "", "No text provided", false},
		{"empty body", ``, http.StatusBadRequest, "", "No text provided", false},
		{"malformed", `{"text":`, http.StatusBadRequest, "", "", false},
		{"ok", `{"text":"hello"}`, http.StatusOK, "hi", "", false},
		{"webhook 500", `{"text":"fail"}`, http.StatusInternalServerError, "", "Failed to send to webhook", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/send-to-make", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			rec := do(t, h, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var out types.SummaryResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if out.Summary != tt.wantSummary {
					t.Fatalf("summary = %q, want %q", out.Summary, tt.wantSummary)
				}
				return
			}
			e := decodeError(t, rec)
			if tt.wantError != "" && e.Error != tt.wantError {
				t.Fatalf("error = %q, want %q", e.Error, tt.wantError)
			}
			if tt.wantDetails && !strings.Contains(e.Details, "HTTP 500") {
				t.Fatalf("details = %q, want webhook status", e.Details)
			}
		})
	}
}

func TestSendToMakeForwardsSamePayload(t *testing.T) {
	var seen []string
	sum := summarizerFunc(func(_ context.Context, text string) (string, error) {
		seen = append(seen, text)
		return "s", nil
	})
	h := newTestServer(t, testConfig(t), sum).Handler()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/send-to-make", strings.NewReader(`{"text":"same"}`))
		if rec := do(t, h, req); rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if len(seen) != 2 || seen[0] != seen[1] {
		t.Fatalf("forwarded payloads differ: %q", seen)
	}
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, testConfig(t), nil).Handler()

	for _, target := range []string{"/", "/send-to-make", "/process-image", "/health"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Origin", "https://elsewhere.example")
		rec := do(t, h, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("%s: Access-Control-Allow-Origin = %q", target, got)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/process-image", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := do(t, h, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Fatalf("preflight methods = %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORSAllowList(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORSAllowedOrigins = []string{"https://app.example"}
	h := newTestServer(t, cfg, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	if got := do(t, h, req).Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allowed origin echoed as %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	if got := do(t, h, req).Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestConcurrencyLimitRejects(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrentRequests = 1
	s := newTestServer(t, cfg, nil)
	if !s.requestSem.TryAcquire(1) {
		t.Fatalf("could not occupy semaphore")
	}
	defer s.requestSem.Release(1)

	req := httptest.NewRequest(http.MethodPost, "/send-to-make", strings.NewReader(`{"text":"x"}`))
	if rec := do(t, s.Handler(), req); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitEvery = time.Hour
	cfg.RateLimitBurst = 1
	h := newTestServer(t, cfg, summarizerFunc(func(context.Context, string) (string, error) { return "ok", nil })).Handler()

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/send-to-make", strings.NewReader(`{"text":"x"}`))
		req.RemoteAddr = "203.0.113.7:5555"
		return do(t, h, req).Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("first status = %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", code)
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	sum := summarizerFunc(func(context.Context, string) (string, error) { panic("kaboom") })
	h := newTestServer(t, testConfig(t), sum).Handler()

	req := httptest.NewRequest(http.MethodPost, "/send-to-make", strings.NewReader(`{"text":"x"}`))
	rec := do(t, h, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("missing %s header", requestIDHeader)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, testConfig(t), nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health types.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Engine != "width" {
		t.Fatalf("unexpected health: %+v", health)
	}

	if rec := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
