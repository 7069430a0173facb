package downloader

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testProber() *HTTPProber {
	return NewHTTPProber(5*time.Second, "test-agent", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHTTPProber_Probe_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result, err := testProber().Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Accessible {
		t.Error("should be accessible")
	}
	if result.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q, want %q", result.ContentType, "video/mp4")
	}
	if result.ContentLength != 1000000 {
		t.Errorf("ContentLength = %d, want 1000000", result.ContentLength)
	}
}

func TestHTTPProber_Probe_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	result, err := testProber().Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe should not return error: %v", err)
	}
	if result.Accessible {
		t.Error("should not be accessible")
	}
	if result.Error != "status code 404" {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestHTTPProber_Probe_HeadNotAllowedFallsBackToRangedGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") != "bytes=0-0" {
			t.Errorf("Range = %q, want bytes=0-0", r.Header.Get("Range"))
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer server.Close()

	result, err := testProber().Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Accessible {
		t.Errorf("partial content should be accessible, got %+v", result)
	}
}

func TestHTTPProber_Probe_NetworkError(t *testing.T) {
	result, err := testProber().Probe(context.Background(), "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("Probe should not return error for network errors: %v", err)
	}
	if result.Accessible {
		t.Error("should not be accessible")
	}
	if result.Error == "" {
		t.Error("error message should be set")
	}
}

func TestHTTPProber_Probe_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := testProber().Probe(ctx, server.URL); err == nil {
		t.Error("expected context error")
	}
}
