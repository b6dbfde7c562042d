// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package batcher

import (
	"fmt"
	"time"
)

const (
	DefaultSizeThreshold = 100
	DefaultAgeThreshold  = 5 * time.Second
	DefaultQueueCapacity = 10_000
	DefaultTickInterval  = 1 * time.Second
	DefaultFlushTimeout  = 30 * time.Second
)

// Config holds the tunables of the batching engine.
type Config struct {
	// SizeThreshold is the number of records in one partition that forces a flush.
	SizeThreshold int `mapstructure:"size_threshold" yaml:"size_threshold"`
	// AgeThreshold is how long a partition batch may stay open before it is flushed.
	AgeThreshold time.Duration `mapstructure:"age_threshold" yaml:"age_threshold"`
	// QueueCapacity bounds the intake queue. Enqueue fails once it is full.
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// TickInterval is the longest the consumer waits for a record before
	// re-evaluating the age policy. Zero selects DefaultTickInterval.
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	// FlushTimeout bounds a single sink call. Zero selects DefaultFlushTimeout.
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		SizeThreshold: DefaultSizeThreshold,
		AgeThreshold:  DefaultAgeThreshold,
		QueueCapacity: DefaultQueueCapacity,
		TickInterval:  DefaultTickInterval,
		FlushTimeout:  DefaultFlushTimeout,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.SizeThreshold <= 0 {
		return fmt.Errorf("%w: size threshold must be positive, got %d", ErrInvalidConfig, c.SizeThreshold)
	}
	if c.AgeThreshold <= 0 {
		return fmt.Errorf("%w: age threshold must be positive, got %s", ErrInvalidConfig, c.AgeThreshold)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue capacity must be positive, got %d", ErrInvalidConfig, c.QueueCapacity)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("%w: tick interval must not be negative, got %s", ErrInvalidConfig, c.TickInterval)
	}
	if c.FlushTimeout < 0 {
		return fmt.Errorf("%w: flush timeout must not be negative, got %s", ErrInvalidConfig, c.FlushTimeout)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}
