// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package departures

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, time.October, 19, h, m, 0, 0, time.UTC)
}

func TestNewTimeFromString(t *testing.T) {
	got, err := NewTimeFromString("12:34")
	if err != nil {
		t.Fatalf("NewTimeFromString: %v", err)
	}
	if got.Hour() != 12 || got.Minute() != 34 {
		t.Errorf("got %d:%d, want 12:34", got.Hour(), got.Minute())
	}
	if got.String() != "12:34" {
		t.Errorf("String(): got %q, want %q", got.String(), "12:34")
	}

	for _, invalid := range []string{"", "1234", "ab:cd", "24:00", "12:60", "12-34", "1:234"} {
		if _, err := NewTimeFromString(invalid); err == nil {
			t.Errorf("NewTimeFromString(%q): expected an error", invalid)
		}
	}
}

func TestTimeOn(t *testing.T) {
	loc := time.FixedZone("CEST", 2*TimeHour)
	day := time.Date(2026, time.October, 19, 23, 59, 0, 0, loc)
	got := Time(7*TimeHour + 5*60).On(day)
	want := time.Date(2026, time.October, 19, 7, 5, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestIsTooLate(t *testing.T) {
	scheduled := Time(12*TimeHour + 34*60)
	threshold := 8 * time.Minute

	if IsTooLate(at(12, 20), scheduled, threshold) {
		t.Error("12:20 should not be too late for 12:34 with an 8 minute threshold")
	}
	if !IsTooLate(at(12, 27), scheduled, threshold) {
		t.Error("12:27 should be too late for 12:34 with an 8 minute threshold")
	}
	if IsTooLate(at(12, 26), scheduled, threshold) {
		t.Error("12:26 is exactly the deadline and should not be too late")
	}
}

func TestIsTooLateMonotonicInThreshold(t *testing.T) {
	scheduled := Time(12*TimeHour + 34*60)
	for m := 0; m < 60; m++ {
		now := at(12, m)
		previous := false
		for threshold := 0; threshold <= 60; threshold++ {
			current := IsTooLate(now, scheduled, time.Duration(threshold)*time.Minute)
			if previous && !current {
				t.Fatalf("now=%s: threshold %d turned too_late back to false", now.Format("15:04"), threshold)
			}
			previous = current
		}
	}
}

func TestSplitTimeText(t *testing.T) {
	clock, countdown, ok := splitTimeText("  12:34 (5 min) \n")
	if !ok {
		t.Fatal("splitTimeText: expected ok")
	}
	if clock != "12:34" {
		t.Errorf("clock: got %q, want %q", clock, "12:34")
	}
	if countdown != "5 min" {
		t.Errorf("countdown: got %q, want %q", countdown, "5 min")
	}

	if _, _, ok := splitTimeText("12:3"); ok {
		t.Error("splitTimeText: expected a too short text to be rejected")
	}
}
