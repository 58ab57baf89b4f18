// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the session configuration and build-time debug
// switches.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const (
	DebugRemap    = false // Logs every identity and range registration.
	DebugSchedule = false // Logs every call emitted by a schedule.
	DebugCompat   = false // Logs every compatibility record considered.
)

// Config controls a capture/replay reconciliation session.
type Config struct {
	// DeviceIndex forces the replay device by enumeration index. Negative
	// values disable the override.
	DeviceIndex int `env:"GFXSYNC_REPLAY_DEVICE_INDEX" envDefault:"-1"`
	// DeviceName forces the first replay device whose name contains this
	// case-insensitive substring.
	DeviceName string `env:"GFXSYNC_REPLAY_DEVICE_NAME"`
	// BestEffort relaxes compatibility failures into loud warnings.
	BestEffort bool `env:"GFXSYNC_BEST_EFFORT"`

	// FenceTimeout is the first bounded wait on GPU completion.
	FenceTimeout time.Duration `env:"GFXSYNC_FENCE_TIMEOUT" envDefault:"1s"`
	// FenceEscalatedTimeout is the single longer wait tried after the first
	// one expires.
	FenceEscalatedTimeout time.Duration `env:"GFXSYNC_FENCE_ESCALATED_TIMEOUT" envDefault:"10s"`

	// InlineLimit is the largest payload in bytes kept inside a state value.
	// Larger payloads go to the blob store.
	InlineLimit int `env:"GFXSYNC_INLINE_LIMIT" envDefault:"256"`
	// FloatTolerance is the relative tolerance used when diffing floats.
	FloatTolerance float64 `env:"GFXSYNC_FLOAT_TOLERANCE" envDefault:"1e-6"`

	// BlobStorePath is the sqlite file backing the blob store. Empty keeps
	// blobs in memory.
	BlobStorePath string `env:"GFXSYNC_BLOB_STORE"`
	// ScheduleWorkers bounds the number of contexts scheduled in parallel.
	ScheduleWorkers int `env:"GFXSYNC_SCHEDULE_WORKERS" envDefault:"4"`
	// DumpSnapshots logs every captured snapshot as JSON at debug level.
	DumpSnapshots bool `env:"GFXSYNC_DUMP_SNAPSHOTS"`
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		DeviceIndex:           -1,
		FenceTimeout:          time.Second,
		FenceEscalatedTimeout: 10 * time.Second,
		InlineLimit:           256,
		FloatTolerance:        1e-6,
		ScheduleWorkers:       4,
	}
}

// Load reads the configuration from the environment, starting from the
// defaults.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Default(), errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Validate checks the configuration for values the session cannot use.
func (c Config) Validate() error {
	switch {
	case c.FenceTimeout <= 0:
		return errors.Errorf("fence timeout must be positive, got %v", c.FenceTimeout)
	case c.FenceEscalatedTimeout < c.FenceTimeout:
		return errors.Errorf("escalated fence timeout %v is shorter than the initial %v",
			c.FenceEscalatedTimeout, c.FenceTimeout)
	case c.InlineLimit < 0:
		return errors.Errorf("inline limit must not be negative, got %d", c.InlineLimit)
	case c.FloatTolerance < 0:
		return errors.Errorf("float tolerance must not be negative, got %v", c.FloatTolerance)
	case c.ScheduleWorkers <= 0:
		return errors.Errorf("schedule workers must be positive, got %d", c.ScheduleWorkers)
	}
	return nil
}
