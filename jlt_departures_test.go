// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package main

import (
	"testing"
	"time"

	"github.com/MKuranowski/JLTDepartures/config"
	"github.com/MKuranowski/JLTDepartures/statestore"
)

func TestNewStoreRedisPool(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Kind = config.StoreRedis
	cfg.Store.Address = "localhost:6379"
	cfg.Store.MaxActive = 5
	cfg.Store.MaxIdle = 3
	cfg.Store.IdleTimeoutS = 90

	store, closeStore := newStore(&cfg)
	defer closeStore()

	cached, ok := store.(*statestore.Cached)
	if !ok {
		t.Fatalf("got %T, want *statestore.Cached", store)
	}
	r, ok := cached.Backend.(*statestore.Redis)
	if !ok {
		t.Fatalf("got backend %T, want *statestore.Redis", cached.Backend)
	}
	if r.Pool.MaxActive != 5 || r.Pool.MaxIdle != 3 || r.Pool.IdleTimeout != 90*time.Second {
		t.Errorf("pool options were not applied: active=%d idle=%d timeout=%s",
			r.Pool.MaxActive, r.Pool.MaxIdle, r.Pool.IdleTimeout)
	}
}

func TestNewLoopResetsCache(t *testing.T) {
	cfg := config.Default()

	if l := newLoop(&cfg, statestore.NewMemory()); l.BeforePass != nil {
		t.Error("uncached store should not get a BeforePass hook")
	}

	if l := newLoop(&cfg, statestore.NewCached(statestore.NewMemory())); l.BeforePass == nil {
		t.Error("cached store should be reset before every pass")
	}
}
