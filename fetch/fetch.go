// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package fetch downloads JLT "closest departures" documents.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultEndpoint = "https://www.jlt.se/api/StopAreaApi/GetClosestDepartures"

const DefaultUserAgent = "jlt-departures/1.0 (+https://github.com/MKuranowski/JLTDepartures)"

// ErrBodyTooLarge is returned when a document exceeds Options.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is returned when the upstream responds with a non-success status code.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected response: %s", e.Status) }

// Retryable returns true for status codes which indicate a temporary upstream failure.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Options configures a Client. Zero values are replaced by sensible defaults.
type Options struct {
	Endpoint       string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxConns       int
	MaxBodyBytes   int64

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry; consecutive delays double.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Transport overrides the HTTP transport built from the options above.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 3 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 4
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 4 << 20
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 8 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client fetches departure documents, retrying temporary failures with exponential backoff.
// A Client processes one request at a time and shares its connection pool between requests.
type Client struct {
	http *http.Client
	opts Options
}

func New(opts Options) *Client {
	opts.defaults()

	transport := opts.Transport
	if transport == nil {
		dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.ReadTimeout,
			MaxIdleConns:          opts.MaxConns,
			MaxIdleConnsPerHost:   opts.MaxConns,
			MaxConnsPerHost:       opts.MaxConns,
			IdleConnTimeout:       90 * time.Second,
		}
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
		},
		opts: opts,
	}
}

// URL returns the address of the document with take departures from stopID.
func (c *Client) URL(stopID string, take int) (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", c.opts.Endpoint, err)
	}

	q := u.Query()
	q.Set("fromId", stopID)
	q.Set("take", strconv.Itoa(take))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.opts.InitialBackoff,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         c.opts.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxRetries)), ctx)
}

// Fetch downloads the departures document for stopID, asking for take departures.
//
// Connection errors and temporary upstream failures (see StatusError.Retryable)
// are retried; any other error is returned immediately.
func (c *Client) Fetch(ctx context.Context, stopID string, take int) ([]byte, error) {
	target, err := c.URL(stopID, take)
	if err != nil {
		return nil, err
	}

	attempt := 0
	body, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			attempt++
			c.opts.Logger.Debug("fetching departures", "stop_id", stopID, "attempt", attempt)
			return c.get(ctx, target)
		},
		c.backOff(ctx),
		func(err error, d time.Duration) {
			c.opts.Logger.Warn("fetching departures failed, retrying",
				"stop_id", stopID, "attempt", attempt, "retry_in", d, "error", err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("fetch departures of stop %s: %w", stopID, err)
	}

	c.opts.Logger.Debug("fetched departures", "stop_id", stopID, "bytes", len(body), "attempts", attempt)
	return body, nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a bit of the body to allow connection reuse
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if statusErr.Retryable() {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, backoff.Permanent(fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, c.opts.MaxBodyBytes))
	}
	return body, nil
}

// IsStatus returns true if err was caused by an upstream response with the provided status code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
