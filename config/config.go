// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package config loads the jlt-departures configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MKuranowski/JLTDepartures/departures"
	"github.com/MKuranowski/JLTDepartures/fetch"
	"github.com/MKuranowski/JLTDepartures/publish"
	"github.com/MKuranowski/go-extra-lib/container/set"
	"github.com/MKuranowski/go-extra-lib/encoding/mcsv"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory        = "memory"
	StoreRedis         = "redis"
	StoreHomeAssistant = "homeassistant"
)

// HTTPConfig configures requests to the departures endpoint.
type HTTPConfig struct {
	ConnectTimeoutMS int `yaml:"connect_timeout_ms" validate:"gt=0"`
	ReadTimeoutMS    int `yaml:"read_timeout_ms" validate:"gt=0"`
	Retries          int `yaml:"retries" validate:"gte=0,lte=10"`
	BackoffMS        int `yaml:"backoff_ms" validate:"gt=0"`
	MaxConns         int `yaml:"max_conns" validate:"gt=0"`
}

// StoreConfig selects where the departure entities are published.
type StoreConfig struct {
	Kind string `yaml:"kind" validate:"oneof=memory redis homeassistant"`

	// Address of the Redis server (host:port) or the base URL of Home Assistant.
	Address string `yaml:"address" validate:"required_unless=Kind memory"`

	// Token for Home Assistant. Falls back to the HOMEASSISTANT_TOKEN environment variable.
	Token string `yaml:"token" validate:"required_if=Kind homeassistant"`

	// KeyPrefix for Redis keys.
	KeyPrefix string `yaml:"key_prefix"`

	MaxActive    int `yaml:"max_active" validate:"gte=0"`
	MaxIdle      int `yaml:"max_idle" validate:"gte=0"`
	IdleTimeoutS int `yaml:"idle_timeout" validate:"gte=0"`
}

// Config is the whole application configuration. It must not be modified after Load.
type Config struct {
	Endpoint         string `yaml:"endpoint" validate:"url"`
	UserAgent        string `yaml:"user_agent"`
	Take             int    `yaml:"take" validate:"gt=0,lte=100"`
	IntervalS        int    `yaml:"interval" validate:"gt=0"`
	InitialDelayS    int    `yaml:"initial_delay" validate:"gte=0"`
	MaxDepartures    int    `yaml:"max_departures" validate:"gt=0,lte=100"`
	ThresholdMinutes int    `yaml:"threshold_minutes" validate:"gte=0"`
	Timezone         string `yaml:"timezone" validate:"required"`
	DepartedSentinel string `yaml:"departed_sentinel" validate:"required"`
	DirectionPrefix  string `yaml:"direction_prefix"`
	EntityPrefix     string `yaml:"entity_prefix" validate:"required"`

	HTTP  HTTPConfig  `yaml:"http"`
	Store StoreConfig `yaml:"store"`

	Targets     []departures.Target `yaml:"targets" validate:"dive"`
	TargetsFile string              `yaml:"targets_file"`

	location *time.Location
}

// Default returns the configuration used for options missing from the file.
func Default() Config {
	return Config{
		Endpoint:         fetch.DefaultEndpoint,
		UserAgent:        fetch.DefaultUserAgent,
		Take:             20,
		IntervalS:        60,
		InitialDelayS:    1,
		MaxDepartures:    9,
		ThresholdMinutes: 8,
		Timezone:         "Europe/Stockholm",
		DepartedSentinel: departures.DefaultDepartedSentinel,
		EntityPrefix:     publish.DefaultEntityPrefix,
		HTTP: HTTPConfig{
			ConnectTimeoutMS: 3000,
			ReadTimeoutMS:    5000,
			Retries:          3,
			BackoffMS:        500,
			MaxConns:         4,
		},
		Store: StoreConfig{
			Kind:      StoreMemory,
			KeyPrefix: "jlt:",
			MaxActive:    4,
			MaxIdle:      2,
			IdleTimeoutS: 300,
		},
	}
}

func (c *Config) Interval() time.Duration     { return time.Duration(c.IntervalS) * time.Second }
func (c *Config) InitialDelay() time.Duration { return time.Duration(c.InitialDelayS) * time.Second }
func (c *Config) Threshold() time.Duration    { return time.Duration(c.ThresholdMinutes) * time.Minute }

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.HTTP.ReadTimeoutMS) * time.Millisecond
}

func (c *Config) StoreIdleTimeout() time.Duration {
	return time.Duration(c.Store.IdleTimeoutS) * time.Second
}

func (c *Config) Backoff() time.Duration {
	return time.Duration(c.HTTP.BackoffMS) * time.Millisecond
}

// Location returns the time zone of departure times.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// Load reads, completes and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.TargetsFile != "" {
		targetsPath := cfg.TargetsFile
		if !filepath.IsAbs(targetsPath) {
			targetsPath = filepath.Join(filepath.Dir(path), targetsPath)
		}

		targets, err := LoadTargetsFile(targetsPath)
		if err != nil {
			return nil, err
		}
		cfg.Targets = append(cfg.Targets, targets...)
	}

	if cfg.Store.Kind == StoreHomeAssistant && cfg.Store.Token == "" {
		cfg.Store.Token = os.Getenv("HOMEASSISTANT_TOKEN")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if len(c.Targets) == 0 {
		return errors.New("no targets defined")
	}

	seen := set.Set[string]{}
	for _, t := range c.Targets {
		key := t.StopID + "\x00" + t.DestinationFilter
		if _, duplicate := seen[key]; duplicate {
			return fmt.Errorf("duplicate target %s", t)
		}
		seen.Add(key)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	c.location = loc

	return nil
}

// LoadTargetsFile reads targets from a CSV file with
// stop_id, destination_filter and suffix columns.
func LoadTargetsFile(path string) ([]departures.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("targets: Open: %w", err)
	}
	defer f.Close()

	targets, err := ReadTargets(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return targets, nil
}

// ReadTargets reads targets from CSV data, see LoadTargetsFile.
func ReadTargets(r io.Reader) ([]departures.Target, error) {
	targets := make([]departures.Target, 0)
	csv := mcsv.NewReader(r)
	for line := 2; ; line++ {
		record, err := csv.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("targets: Read: %w", err)
		}

		t := departures.Target{
			StopID:            strings.TrimSpace(record["stop_id"]),
			DestinationFilter: record["destination_filter"],
			Suffix:            strings.TrimSpace(record["suffix"]),
		}
		if t.StopID == "" || t.DestinationFilter == "" || t.Suffix == "" {
			return nil, fmt.Errorf("targets: line %d: stop_id, destination_filter and suffix are required", line)
		}
		targets = append(targets, t)
	}
	return targets, nil
}
