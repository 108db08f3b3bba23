// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const okBody = `<div class="travel-suggestion"></div>`

func newTestClient(endpoint string, retries int) *Client {
	return New(Options{
		Endpoint:       endpoint,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

// flakyServer responds with failStatus for the first failures requests, and then with okBody.
func flakyServer(t *testing.T, failures int32, failStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= failures {
			w.WriteHeader(failStatus)
			return
		}
		w.Write([]byte(okBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetch(t *testing.T) {
	var gotQuery, gotUserAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUserAgent = r.Header.Get("User-Agent")
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL, 3).Fetch(context.Background(), "6001350", 20)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != okBody {
		t.Errorf("body: got %q", body)
	}
	if gotQuery != "fromId=6001350&take=20" {
		t.Errorf("query: got %q", gotQuery)
	}
	if gotUserAgent != DefaultUserAgent {
		t.Errorf("User-Agent: got %q", gotUserAgent)
	}
}

func TestFetchRetriesServiceUnavailable(t *testing.T) {
	srv, calls := flakyServer(t, 3, http.StatusServiceUnavailable)

	body, err := newTestClient(srv.URL, 3).Fetch(context.Background(), "1", 20)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != okBody {
		t.Errorf("body: got %q", body)
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("got %d requests, want 4", n)
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	srv, calls := flakyServer(t, 100, http.StatusServiceUnavailable)

	body, err := newTestClient(srv.URL, 3).Fetch(context.Background(), "1", 20)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if body != nil {
		t.Errorf("expected no body, got %q", body)
	}
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Errorf("expected a 503 StatusError, got %v", err)
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("got %d requests, want 4", n)
	}
}

func TestFetchRetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		srv, calls := flakyServer(t, 1, status)
		if _, err := newTestClient(srv.URL, 1).Fetch(context.Background(), "1", 20); err != nil {
			t.Errorf("status %d: Fetch: %v", status, err)
		}
		if n := calls.Load(); n != 2 {
			t.Errorf("status %d: got %d requests, want 2", status, n)
		}
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{400, 403, 404} {
		srv, calls := flakyServer(t, 100, status)
		_, err := newTestClient(srv.URL, 3).Fetch(context.Background(), "1", 20)
		if !IsStatus(err, status) {
			t.Errorf("status %d: expected StatusError, got %v", status, err)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("status %d: got %d requests, want 1", status, n)
		}
	}
}

func TestFetchRetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	start := time.Now()
	_, err := newTestClient(endpoint, 2).Fetch(context.Background(), "1", 20)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if IsStatus(err, 0) {
		t.Errorf("connection errors should not be reported as StatusError: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retries took way too long")
	}
}

func TestFetchReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, ReadTimeout: 50 * time.Millisecond, InitialBackoff: time.Millisecond})
	_, err := c.Fetch(context.Background(), "1", 20)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestFetchBodyTooLarge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(strings.Repeat("x", 65)))
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, MaxBodyBytes: 64, MaxRetries: 3, InitialBackoff: time.Millisecond})
	_, err := c.Fetch(context.Background(), "1", 20)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("got error %v, want ErrBodyTooLarge", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("got %d requests, want 1", got)
	}
}

func TestFetchBodyAtLimit(t *testing.T) {
	body := strings.Repeat("x", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, MaxBodyBytes: 64})
	got, err := c.Fetch(context.Background(), "1", 20)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != body {
		t.Errorf("got %d bytes, want %d", len(got), len(body))
	}
}

func TestFetchCancelled(t *testing.T) {
	srv, calls := flakyServer(t, 100, http.StatusServiceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL, 3).Fetch(ctx, "1", 20)
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("got %d requests on a cancelled context", n)
	}
}

func TestURL(t *testing.T) {
	c := New(Options{Endpoint: "https://example.com/api/departures?lang=sv"})
	got, err := c.URL("6001353", 5)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if !strings.HasPrefix(got, "https://example.com/api/departures?") {
		t.Errorf("unexpected URL: %s", got)
	}
	for _, param := range []string{"fromId=6001353", "take=5", "lang=sv"} {
		if !strings.Contains(got, param) {
			t.Errorf("URL %s is missing %s", got, param)
		}
	}
}
