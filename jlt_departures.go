// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/MKuranowski/JLTDepartures/config"
	"github.com/MKuranowski/JLTDepartures/departures"
	"github.com/MKuranowski/JLTDepartures/feed"
	"github.com/MKuranowski/JLTDepartures/fetch"
	"github.com/MKuranowski/JLTDepartures/loop"
	"github.com/MKuranowski/JLTDepartures/publish"
	"github.com/MKuranowski/JLTDepartures/statestore"
	"github.com/MKuranowski/go-extra-lib/clock"
	"github.com/gomodule/redigo/redis"
)

var (
	flagConfig        = flag.String("config", "config.yml", "path to the configuration file")
	flagOnce          = flag.Bool("once", false, "run a single pass and exit")
	flagTarget        = flag.String("gtfs-rt-target", "", "if not empty, where to put a GTFS-RT file with the latest departures")
	flagHumanReadable = flag.Bool("human-readable", false, "use human-readable protobuf format")
	flagVerbose       = flag.Bool("verbose", false, "show DEBUG logging")
)

func newStore(cfg *config.Config) (statestore.Store, func()) {
	switch cfg.Store.Kind {
	case config.StoreRedis:
		pool := statestore.NewRedisPool(
			statestore.RedisPoolDial(func() (redis.Conn, error) {
				return redis.Dial("tcp", cfg.Store.Address)
			}),
			statestore.RedisPoolMaxActive(cfg.Store.MaxActive),
			statestore.RedisPoolMaxIdle(cfg.Store.MaxIdle),
			statestore.RedisPoolIdleTimeout(cfg.StoreIdleTimeout()),
		)
		closePool := func() {
			if err := pool.Close(); err != nil {
				slog.Error("failed to close Redis pool", "error", err)
			}
		}
		return statestore.NewCached(&statestore.Redis{Pool: pool, KeyPrefix: cfg.Store.KeyPrefix}), closePool

	case config.StoreHomeAssistant:
		return statestore.NewCached(&statestore.HomeAssistant{BaseURL: cfg.Store.Address, Token: cfg.Store.Token}), func() {}

	default:
		return statestore.NewMemory(), func() {}
	}
}

func newLoop(cfg *config.Config, store statestore.Store) *loop.Loop {
	l := &loop.Loop{
		Targets:       cfg.Targets,
		Take:          cfg.Take,
		MaxDepartures: cfg.MaxDepartures,
		InitialDelay:  cfg.InitialDelay(),
		Interval:      cfg.Interval(),
		Location:      cfg.Location(),
		Fetcher: fetch.New(fetch.Options{
			Endpoint:       cfg.Endpoint,
			UserAgent:      cfg.UserAgent,
			ConnectTimeout: cfg.ConnectTimeout(),
			ReadTimeout:    cfg.ReadTimeout(),
			MaxConns:       cfg.HTTP.MaxConns,
			MaxRetries:     cfg.HTTP.Retries,
			InitialBackoff: cfg.Backoff(),
		}),
		Extractor: &departures.Extractor{
			Threshold:        cfg.Threshold(),
			DepartedSentinel: cfg.DepartedSentinel,
			DirectionPrefix:  cfg.DirectionPrefix,
		},
		Publisher: &publish.Publisher{
			Store:         store,
			EntityPrefix:  cfg.EntityPrefix,
			MaxDepartures: cfg.MaxDepartures,
		},
		Timer: loop.SystemTimer{},
		Clock: clock.System,
	}

	if cached, ok := store.(*statestore.Cached); ok {
		l.BeforePass = cached.Reset
	}

	if *flagTarget != "" {
		l.AfterPass = func(now time.Time, results []loop.Result) {
			targets := make([]feed.TargetDepartures, 0, len(results))
			for _, r := range results {
				targets = append(targets, feed.TargetDepartures{Target: r.Target, Departures: r.Departures})
			}

			err := feed.Save(feed.Build(cfg.EntityPrefix, targets, now), *flagTarget, *flagHumanReadable)
			if err != nil {
				slog.Error("failed to save GTFS-RT", "error", err)
			}
		}
	}

	return l
}

func main() {
	flag.Parse()
	if *flagVerbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatal(err)
	}

	store, closeStore := newStore(cfg)
	defer closeStore()

	l := newLoop(cfg, store)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flagOnce {
		slog.Info("Running a single pass", "targets", len(cfg.Targets))
		l.Pass(ctx)
		return
	}

	slog.Info("Starting departures loop", "targets", len(cfg.Targets), "interval", cfg.Interval())
	l.Run(ctx)
}
