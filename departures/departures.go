// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package departures turns the JLT "closest departures" HTML fragment into
// structured departure records.
package departures

import (
	"fmt"
	"strings"
	"time"
)

// Target is a single configured stop to poll, together with the destination
// filter selecting interesting departures and a suffix used to group the
// published entities.
type Target struct {
	StopID            string `yaml:"stop_id" validate:"required"`
	DestinationFilter string `yaml:"destination_filter" validate:"required"`
	Suffix            string `yaml:"suffix" validate:"required"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%q/%s", t.StopID, t.DestinationFilter, t.Suffix)
}

// Time is a wall-clock time of day, stored as seconds since midnight.
type Time int

const TimeHour = 60 * 60

// NewTimeFromString parses a "HH:MM" string.
func NewTimeFromString(x string) (Time, error) {
	if len(x) != 5 || x[2] != ':' {
		return 0, fmt.Errorf("invalid time string: %q", x)
	}

	var h, m int
	if _, err := fmt.Sscanf(x, "%2d:%2d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time string: %q: %w", x, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time out of range: %q", x)
	}

	return Time(h*TimeHour + m*60), nil
}

func (t Time) Hour() int   { return int(t) / TimeHour }
func (t Time) Minute() int { return int(t) % TimeHour / 60 }

// On returns the instant at which t falls on the same calendar day as day,
// in day's location.
func (t Time) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, day.Location())
}

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// RawSuggestion is a single "travel suggestion" block, as found in the document.
type RawSuggestion struct {
	DirectionText string
	LineLabel     string
	TimeText      string
}

// Departure is a single upcoming departure matching a Target.
type Departure struct {
	LineNumber      string
	DepartureTime   Time
	Direction       string
	TimeToDeparture string
	TooLate         bool
}

// IsTooLate returns true if there's no longer time to reach a departure at
// scheduled, given that the rider needs threshold to get to the stop.
//
// Departures are always assumed to happen on the same day as now.
func IsTooLate(now time.Time, scheduled Time, threshold time.Duration) bool {
	return now.After(scheduled.On(now).Add(-threshold))
}

// splitTimeText splits "12:34 (5 min)" into "12:34" and "5 min".
func splitTimeText(text string) (clock string, countdown string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 5 {
		return "", "", false
	}

	clock = text[:5]
	countdown = strings.TrimSpace(text[5:])
	countdown = strings.TrimPrefix(countdown, "(")
	countdown = strings.TrimSuffix(countdown, ")")
	return clock, strings.TrimSpace(countdown), true
}
