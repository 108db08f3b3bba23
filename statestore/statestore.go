// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package statestore provides access to named state entries of a home-automation system.
package statestore

import (
	"context"
	"reflect"
	"sync"

	"golang.org/x/exp/maps"
)

// Attributes are additional values attached to a state entry.
type Attributes map[string]any

// Equal returns true if both attribute sets have the same keys and values.
// A nil Attributes is equal to an empty one.
func (a Attributes) Equal(b Attributes) bool {
	return maps.EqualFunc(a, b, func(x, y any) bool { return reflect.DeepEqual(x, y) })
}

// Entry is the value of a single named state entry.
type Entry struct {
	State      string     `json:"state"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Equal returns true if both entries have the same state and attributes.
func (e Entry) Equal(o Entry) bool {
	return e.State == o.State && e.Attributes.Equal(o.Attributes)
}

// Store reads and writes named state entries.
type Store interface {
	// Get returns the current entry. ok is false if the entry does not exist.
	Get(ctx context.Context, entityID string) (entry Entry, ok bool, err error)

	// Set replaces the entry.
	Set(ctx context.Context, entityID string, entry Entry) error
}

// Memory is a Store keeping all entries in memory. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, entityID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entityID]
	if ok {
		e.Attributes = maps.Clone(e.Attributes)
	}
	return e, ok, nil
}

func (m *Memory) Set(_ context.Context, entityID string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Attributes = maps.Clone(entry.Attributes)
	m.entries[entityID] = entry
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cached is a read-through and write-through cache in front of another Store.
//
// The cache assumes it is the only writer of the entries it has seen;
// changes made directly in the backing store are not noticed until Reset.
type Cached struct {
	Backend Store

	mu    sync.Mutex
	cache map[string]Entry
}

func NewCached(backend Store) *Cached {
	return &Cached{Backend: backend, cache: make(map[string]Entry)}
}

func (c *Cached) Get(ctx context.Context, entityID string) (Entry, bool, error) {
	c.mu.Lock()
	e, ok := c.cache[entityID]
	c.mu.Unlock()
	if ok {
		return e, true, nil
	}

	e, ok, err := c.Backend.Get(ctx, entityID)
	if err != nil || !ok {
		return e, ok, err
	}

	c.mu.Lock()
	c.cache[entityID] = e
	c.mu.Unlock()
	return e, true, nil
}

func (c *Cached) Set(ctx context.Context, entityID string, entry Entry) error {
	if err := c.Backend.Set(ctx, entityID, entry); err != nil {
		c.Forget(entityID)
		return err
	}

	c.mu.Lock()
	c.cache[entityID] = Entry{State: entry.State, Attributes: maps.Clone(entry.Attributes)}
	c.mu.Unlock()
	return nil
}

// Reset drops all cached values, so the next reads of every entity go to the backend.
func (c *Cached) Reset() {
	c.mu.Lock()
	c.cache = make(map[string]Entry)
	c.mu.Unlock()
}

// Forget drops the cached value of an entry, forcing the next Get to hit the backend.
func (c *Cached) Forget(entityID string) {
	c.mu.Lock()
	delete(c.cache, entityID)
	c.mu.Unlock()
}
