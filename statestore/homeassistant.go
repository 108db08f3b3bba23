// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HomeAssistant is a Store backed by the Home Assistant REST API
// (https://developers.home-assistant.io/docs/api/rest/).
type HomeAssistant struct {
	// BaseURL of the Home Assistant instance, e.g. "http://homeassistant.local:8123".
	BaseURL string

	// Token is a long-lived access token.
	Token string

	// Client is used to make requests. If nil, a client with a 10s timeout is used.
	Client *http.Client
}

var defaultHomeAssistantClient = &http.Client{Timeout: 10 * time.Second}

func (h *HomeAssistant) client() *http.Client {
	if h.Client == nil {
		return defaultHomeAssistantClient
	}
	return h.Client
}

func (h *HomeAssistant) stateURL(entityID string) string {
	return strings.TrimRight(h.BaseURL, "/") + "/api/states/" + url.PathEscape(entityID)
}

func (h *HomeAssistant) do(ctx context.Context, method, entityID string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.stateURL(entityID), body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, entityID, err)
	}
	return resp, nil
}

func (h *HomeAssistant) Get(ctx context.Context, entityID string) (Entry, bool, error) {
	resp, err := h.do(ctx, http.MethodGet, entityID, nil)
	if err != nil {
		return Entry{}, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Entry{}, false, nil
	case resp.StatusCode != http.StatusOK:
		return Entry{}, false, fmt.Errorf("GET %s: %s", entityID, resp.Status)
	}

	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return Entry{}, false, fmt.Errorf("GET %s: decode: %w", entityID, err)
	}
	return entry, true, nil
}

func (h *HomeAssistant) Set(ctx context.Context, entityID string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("POST %s: encode: %w", entityID, err)
	}

	resp, err := h.do(ctx, http.MethodPost, entityID, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("POST %s: %s", entityID, resp.Status)
	}
	return nil
}
