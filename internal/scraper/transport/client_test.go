package transport

import (
	"PriceScraper/internal/scraper"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	opts.BackoffInitial = time.Millisecond
	opts.BackoffMax = 5 * time.Millisecond
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDoRetriesThrottling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Retries: 3})
	body, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if calls != 3 {
		t.Errorf("calls = %d; want 3", calls)
	}
}

func TestDoGivesUpAsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("blocked for key SECRET-KEY"))
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Retries: 2, Secrets: []string{"SECRET-KEY"}})
	_, err := c.Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, scraper.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var serr *scraper.StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected StatusError 403, got %v", err)
	}
	if strings.Contains(serr.Body, "SECRET-KEY") {
		t.Errorf("secret leaked into error body: %q", serr.Body)
	}
	if calls != 3 {
		t.Errorf("calls = %d; want 3", calls)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Retries: 3})
	_, err := c.Get(context.Background(), srv.URL, nil)
	if err == nil || errors.Is(err, scraper.ErrTransient) {
		t.Fatalf("404 should be a permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d; want 1", calls)
	}
}

func TestDoRefreshesAntiBotToken(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if c, err := r.Cookie(TokenCookie); err == nil && c.Value == "fresh" {
			w.Write([]byte("[]"))
			return
		}
		w.Header().Set(TokenHeader, "fresh")
		w.WriteHeader(498)
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Retries: 1})
	if _, err := c.Get(context.Background(), srv.URL+"/catalog", nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d; want 2", calls)
	}
}

func TestNewLoadsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("_wbauid"); err != nil || c.Value != "123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Cookies: "_wbauid=123; routeb=abc", CookieURL: srv.URL})
	if got := len(c.Cookies(srv.URL)); got != 2 {
		t.Errorf("jar holds %d cookies; want 2", got)
	}
	if _, err := c.Get(context.Background(), srv.URL, nil); err != nil {
		t.Errorf("cookie not sent: %v", err)
	}
}

func TestPostJSONSendsBodyOnEveryAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		if buf.String() != `{"sku":[1]}` || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Retries: 1})
	if _, err := c.PostJSON(context.Background(), srv.URL, []byte(`{"sku":[1]}`), nil); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(t, Options{Retries: 5})
	if _, err := c.Get(ctx, srv.URL, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v; want context.Canceled", err)
	}
}
