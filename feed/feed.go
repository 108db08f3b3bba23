// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package feed exports the latest departures as a GTFS-Realtime TripUpdates feed.
package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MKuranowski/JLTDepartures/departures"
	"github.com/MKuranowski/JLTDepartures/publish"
	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// Ptr returns a pointer to v. Useful for constants and literals.
func Ptr[T any](v T) *T { return &v }

// TargetDepartures are the departures found for a single target in a pass.
type TargetDepartures struct {
	Target     departures.Target
	Departures []departures.Departure
}

// Build creates a FeedMessage with a TripUpdate entity for every departure slot.
// Departure times are resolved to the calendar day of now.
func Build(entityPrefix string, targets []TargetDepartures, now time.Time) *gtfsrt.FeedMessage {
	entities := make([]*gtfsrt.FeedEntity, 0)
	for _, t := range targets {
		for i, d := range t.Departures {
			slot := publish.Slot{Prefix: entityPrefix, LineNumber: d.LineNumber, Suffix: t.Target.Suffix, Index: i + 1}
			entities = append(entities, &gtfsrt.FeedEntity{
				Id: Ptr(slot.EntityID()),
				TripUpdate: &gtfsrt.TripUpdate{
					Trip: &gtfsrt.TripDescriptor{RouteId: Ptr(d.LineNumber)},
					StopTimeUpdate: []*gtfsrt.TripUpdate_StopTimeUpdate{
						{
							StopId:    Ptr(t.Target.StopID),
							Departure: &gtfsrt.TripUpdate_StopTimeEvent{Time: Ptr(d.DepartureTime.On(now).Unix())},
						},
					},
				},
			})
		}
	}

	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: Ptr("2.0"),
			Incrementality:      Ptr(gtfsrt.FeedHeader_FULL_DATASET),
			Timestamp:           Ptr(uint64(now.Unix())),
		},
		Entity: entities,
	}
}

// Marshal serializes m in the binary wire format, or as prototext if humanReadable is set.
func Marshal(m proto.Message, humanReadable bool) ([]byte, error) {
	if humanReadable {
		return prototext.MarshalOptions{Multiline: true}.Marshal(m)
	}
	return proto.Marshal(m)
}

// Save serializes m and replaces target with it. The data is first written
// to a temporary file in target's directory, which is then renamed over target.
func Save(m proto.Message, target string, humanReadable bool) error {
	data, err := Marshal(m, humanReadable)
	if err != nil {
		return fmt.Errorf("marshal feed: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create temporary file for %s: %w", target, err)
	}
	tempName := f.Name()

	if err := writeAndClose(f, data); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("write %s: %w", tempName, err)
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("rename %s to %s: %w", tempName, target, err)
	}
	return nil
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
