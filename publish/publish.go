// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package publish maps departures onto home-automation state entries.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/MKuranowski/JLTDepartures/departures"
	"github.com/MKuranowski/JLTDepartures/statestore"
)

const DefaultEntityPrefix = "sensor.jlt_bus"

// Slot identifies the entities representing the n-th (1-based) departure of a target.
type Slot struct {
	Prefix     string
	LineNumber string
	Suffix     string
	Index      int
}

// EntityID returns the ID of the primary entity of the slot.
func (s Slot) EntityID() string {
	return fmt.Sprintf("%s_%s_%s_departure_%d", s.Prefix, s.LineNumber, s.Suffix, s.Index)
}

func (s Slot) DepartureEntityID() string       { return s.EntityID() + "_departure" }
func (s Slot) TimeToDepartureEntityID() string { return s.EntityID() + "_time_to_departure" }
func (s Slot) TooLateEntityID() string         { return s.EntityID() + "_too_late" }

// Entries returns all entities of the slot with their expected values, primary entity first.
func (s Slot) Entries(d departures.Departure) []NamedEntry {
	departureTime := d.DepartureTime.String()
	tooLate := strconv.FormatBool(d.TooLate)

	return []NamedEntry{
		{
			EntityID: s.EntityID(),
			Entry: statestore.Entry{
				State: departureTime,
				Attributes: statestore.Attributes{
					"line_number":       d.LineNumber,
					"direction":         d.Direction,
					"time_to_departure": d.TimeToDeparture,
					"too_late":          d.TooLate,
				},
			},
		},

		// Helpers without frequently-changing attributes, as automations trigger
		// on attribute changes as well.
		{EntityID: s.DepartureEntityID(), Entry: statestore.Entry{State: departureTime}},
		{EntityID: s.TimeToDepartureEntityID(), Entry: statestore.Entry{State: d.TimeToDeparture}},
		{EntityID: s.TooLateEntityID(), Entry: statestore.Entry{State: tooLate}},
	}
}

// NamedEntry is a state entry together with its entity ID.
type NamedEntry struct {
	EntityID string
	statestore.Entry
}

// Stats counts the outcome of a single Publish call.
type Stats struct {
	Slots     int
	Written   int
	Unchanged int
	Failed    int
}

// Publisher writes departures into a statestore.Store, skipping writes of unchanged entries.
type Publisher struct {
	Store statestore.Store

	// EntityPrefix is prepended to all entity IDs. If empty, DefaultEntityPrefix is used.
	EntityPrefix string

	// MaxDepartures caps the number of slots per target. Non-positive values disable the cap.
	MaxDepartures int

	Logger *slog.Logger
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Publisher) prefix() string {
	if p.EntityPrefix == "" {
		return DefaultEntityPrefix
	}
	return p.EntityPrefix
}

// Publish writes the entries of every departure slot under the provided suffix.
//
// Each entry is compared with the currently stored one, and written only if its
// state or attributes differ. Store errors of one entry don't stop the remaining
// entries from being published; the first such error is returned.
func (p *Publisher) Publish(ctx context.Context, deps []departures.Departure, suffix string) (stats Stats, err error) {
	if p.MaxDepartures > 0 && len(deps) > p.MaxDepartures {
		deps = deps[:p.MaxDepartures]
	}

	for i, d := range deps {
		slot := Slot{Prefix: p.prefix(), LineNumber: d.LineNumber, Suffix: suffix, Index: i + 1}
		stats.Slots++

		p.logger().Info(
			"departure slot",
			"entity_id", slot.EntityID(),
			"departure_time", d.DepartureTime.String(),
			"time_to_departure", d.TimeToDeparture,
			"line_number", d.LineNumber,
			"direction", d.Direction,
			"too_late", d.TooLate,
		)

		for _, e := range slot.Entries(d) {
			written, setErr := p.publishEntry(ctx, e)
			switch {
			case setErr != nil:
				stats.Failed++
				p.logger().Error("failed to publish entity", "entity_id", e.EntityID, "error", setErr)
				if err == nil {
					err = setErr
				}
			case written:
				stats.Written++
			default:
				stats.Unchanged++
			}
		}
	}

	return
}

func (p *Publisher) publishEntry(ctx context.Context, e NamedEntry) (written bool, err error) {
	current, exists, err := p.Store.Get(ctx, e.EntityID)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", e.EntityID, err)
	}

	if exists && current.Equal(e.Entry) {
		return false, nil
	}

	if err := p.Store.Set(ctx, e.EntityID, e.Entry); err != nil {
		return false, fmt.Errorf("set %s: %w", e.EntityID, err)
	}
	p.logger().Debug("published entity", "entity_id", e.EntityID, "state", e.State)
	return true, nil
}
