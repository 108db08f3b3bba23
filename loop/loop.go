// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package loop periodically refreshes published departures of all targets.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MKuranowski/JLTDepartures/departures"
	"github.com/MKuranowski/JLTDepartures/publish"
)

// Timer is a one-shot scheduling primitive.
type Timer interface {
	// AfterFunc calls f in its own goroutine after d elapses.
	// The returned function cancels the call, if it has not yet started.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// SystemTimer is a Timer backed by time.AfterFunc.
type SystemTimer struct{}

func (SystemTimer) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Clock tells the current time. It is satisfied by go-extra-lib's clock.Interface.
type Clock interface {
	Now() time.Time
}

type Fetcher interface {
	Fetch(ctx context.Context, stopID string, take int) ([]byte, error)
}

type Extractor interface {
	Extract(document []byte, destinationFilter string, maxItems int, now time.Time) []departures.Departure
}

type Publisher interface {
	Publish(ctx context.Context, deps []departures.Departure, suffix string) (publish.Stats, error)
}

// Result is the outcome of processing a single target in a pass.
type Result struct {
	Target     departures.Target
	Departures []departures.Departure
	Err        error
}

// Loop runs passes over all Targets every Interval. At most one pass runs at a time.
type Loop struct {
	Targets       []departures.Target
	Take          int
	MaxDepartures int

	// InitialDelay is the delay before the first pass.
	InitialDelay time.Duration

	// Interval is the delay between the end of a pass and the start of the next one.
	Interval time.Duration

	// Location in which departure times are interpreted. Defaults to time.Local.
	Location *time.Location

	Fetcher   Fetcher
	Extractor Extractor
	Publisher Publisher
	Timer     Timer
	Clock     Clock
	Logger    *slog.Logger

	// BeforePass, if not nil, is called at the start of every pass.
	BeforePass func()

	// AfterPass, if not nil, is called with the results of every completed pass.
	AfterPass func(now time.Time, results []Result)

	running atomic.Bool
	passMu  sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	stopNext func() bool
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *Loop) now() time.Time {
	loc := l.Location
	if loc == nil {
		loc = time.Local
	}
	if l.Clock == nil {
		return time.Now().In(loc)
	}
	return l.Clock.Now().In(loc)
}

// Run schedules the first pass after InitialDelay and blocks until ctx is cancelled.
// Before returning, Run cancels any pending pass and waits for a running one to finish.
func (l *Loop) Run(ctx context.Context) {
	l.Start(ctx)
	<-ctx.Done()

	l.mu.Lock()
	if l.stopNext != nil {
		l.stopNext()
		l.stopNext = nil
	}
	l.mu.Unlock()

	l.passMu.Lock()
	defer l.passMu.Unlock()
	l.logger().Info("loop stopped")
}

// Start schedules the first pass after InitialDelay and returns immediately.
// No further passes are scheduled once ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	if l.Timer == nil {
		l.Timer = SystemTimer{}
	}

	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	l.schedule(l.InitialDelay)
}

func (l *Loop) schedule(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx == nil || l.ctx.Err() != nil {
		return
	}
	l.stopNext = l.Timer.AfterFunc(d, l.fire)
}

func (l *Loop) currentContext() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}

func (l *Loop) fire() {
	ctx := l.currentContext()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if !l.running.CompareAndSwap(false, true) {
		l.logger().Warn("previous pass is still running - skipping this one")
		l.schedule(l.Interval)
		return
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.logger().Error("pass failed unexpectedly", "panic", fmt.Sprint(r))
		}

		l.running.Store(false)
		l.logger().Info("pass finished", "elapsed", time.Since(start).Round(time.Millisecond))
		l.schedule(l.Interval)
	}()

	l.Pass(ctx)
}

// Pass processes every target once, in order, and returns the results.
//
// Fetch failures are logged and result in no departures for that target;
// they don't prevent the remaining targets from being processed.
func (l *Loop) Pass(ctx context.Context) []Result {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	if l.BeforePass != nil {
		l.BeforePass()
	}

	results := make([]Result, 0, len(l.Targets))
	for _, target := range l.Targets {
		if ctx.Err() != nil {
			break
		}
		results = append(results, l.processTarget(ctx, target))
	}

	if l.AfterPass != nil {
		l.AfterPass(l.now(), results)
	}
	return results
}

func (l *Loop) processTarget(ctx context.Context, target departures.Target) (r Result) {
	r.Target = target
	log := l.logger().With("stop_id", target.StopID, "destination", target.DestinationFilter)

	document, err := l.Fetcher.Fetch(ctx, target.StopID, l.Take)
	if err != nil {
		log.Error("failed to fetch departures", "error", err)
		r.Err = err
	} else {
		r.Departures = l.Extractor.Extract(document, target.DestinationFilter, l.MaxDepartures, l.now())
		log.Debug("extracted departures", "count", len(r.Departures))
	}

	stats, err := l.Publisher.Publish(ctx, r.Departures, target.Suffix)
	if err != nil {
		log.Error("failed to publish departures", "error", err)
		if r.Err == nil {
			r.Err = err
		}
	}
	log.Debug("published departures", "slots", stats.Slots, "written", stats.Written, "unchanged", stats.Unchanged)
	return
}
