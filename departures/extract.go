// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package departures

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultDepartedSentinel is the countdown text used by JLT for departures
// which have already left the stop.
const DefaultDepartedSentinel = "Har avgått"

// Extractor parses JLT departure documents.
type Extractor struct {
	// Threshold is the time a rider needs to get to the stop.
	Threshold time.Duration

	// DepartedSentinel marks suggestions which have already departed.
	// If empty, DefaultDepartedSentinel is used.
	DepartedSentinel string

	// DirectionPrefix, if not empty, is stripped from the published direction.
	// Matching against the destination filter always uses the full text.
	DirectionPrefix string

	Logger *slog.Logger
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Extractor) sentinel() string {
	if e.DepartedSentinel == "" {
		return DefaultDepartedSentinel
	}
	return e.DepartedSentinel
}

// Extract returns up to maxItems departures from document, whose direction contains
// destinationFilter. The document order is preserved.
//
// Extract never fails - unparsable documents result in an empty slice,
// and malformed suggestions are skipped.
func (e *Extractor) Extract(document []byte, destinationFilter string, maxItems int, now time.Time) []Departure {
	doc, err := parseDocument(document)
	if err != nil {
		e.logger().Error("failed to parse departures document", "error", err)
		return nil
	}

	departures := make([]Departure, 0)
	if maxItems <= 0 {
		return departures
	}

	doc.Find("div.travel-suggestion").EachWithBreak(func(i int, block *goquery.Selection) bool {
		raw, ok := scrapeSuggestion(block)
		if !ok {
			e.logger().Debug("skipping suggestion without direction or line", "index", i)
			return true
		}

		if !strings.Contains(raw.DirectionText, destinationFilter) {
			return true
		}

		departure, err := e.parseSuggestion(raw, now)
		if err != nil {
			e.logger().Warn("skipping malformed suggestion", "index", i, "error", err)
			return true
		} else if departure == nil {
			return true // already departed
		}

		departures = append(departures, *departure)
		return len(departures) < maxItems
	})

	return departures
}

// parseDocument parses an HTML document, falling back to parsing it as a <body> fragment
// if the regular parser fails.
func parseDocument(document []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err == nil {
		return doc, nil
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, fragmentErr := html.ParseFragment(bytes.NewReader(document), body)
	if fragmentErr != nil {
		return nil, fmt.Errorf("parse: %w (fragment fallback: %v)", err, fragmentErr)
	}

	root := &html.Node{Type: html.DocumentNode}
	for _, node := range nodes {
		root.AppendChild(node)
	}
	return goquery.NewDocumentFromNode(root), nil
}

func scrapeSuggestion(block *goquery.Selection) (raw RawSuggestion, ok bool) {
	direction := block.Find("div.direction").First()
	line := block.Find("div.line-info span").First()
	if direction.Length() == 0 || line.Length() == 0 {
		return
	}

	raw.DirectionText = direction.Text()
	raw.LineLabel = line.Text()
	raw.TimeText = block.Find("p").First().Text()
	return raw, true
}

// parseSuggestion converts a matching RawSuggestion into a Departure.
// Returns (nil, nil) for suggestions which have already departed.
func (e *Extractor) parseSuggestion(raw RawSuggestion, now time.Time) (*Departure, error) {
	if strings.Contains(raw.TimeText, e.sentinel()) {
		return nil, nil
	}

	clock, countdown, ok := splitTimeText(raw.TimeText)
	if !ok {
		return nil, fmt.Errorf("time text too short: %q", raw.TimeText)
	}

	departureTime, err := NewTimeFromString(clock)
	if err != nil {
		return nil, err
	}

	direction := strings.TrimSpace(raw.DirectionText)
	if e.DirectionPrefix != "" {
		direction = strings.TrimSpace(strings.TrimPrefix(direction, e.DirectionPrefix))
	}

	return &Departure{
		LineNumber:      strings.TrimSpace(raw.LineLabel),
		DepartureTime:   departureTime,
		Direction:       direction,
		TimeToDeparture: countdown,
		TooLate:         IsTooLate(now, departureTime, e.Threshold),
	}, nil
}
