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

package fly

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Config holds the broker connection and client tuning shared by the
// span intake consumer and the Kafka sink producer.
type Config struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`

	// SASL authentication
	SASLEnabled   bool   `mapstructure:"sasl_enabled" yaml:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism" yaml:"sasl_mechanism"` // "SCRAM-SHA-256", "SCRAM-SHA-512" or "PLAIN"
	SASLUsername  string `mapstructure:"sasl_username" yaml:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password" yaml:"sasl_password"`

	// TLS
	TLSEnabled    bool `mapstructure:"tls_enabled" yaml:"tls_enabled"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`

	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`

	// Producer settings
	ProducerBatchSize    int           `mapstructure:"producer_batch_size" yaml:"producer_batch_size"`
	ProducerBatchTimeout time.Duration `mapstructure:"producer_batch_timeout" yaml:"producer_batch_timeout"`
	ProducerCompression  string        `mapstructure:"producer_compression" yaml:"producer_compression"`

	// Consumer settings
	ConsumerGroup     string        `mapstructure:"consumer_group" yaml:"consumer_group"`
	ConsumerBatchSize int           `mapstructure:"consumer_batch_size" yaml:"consumer_batch_size"`
	ConsumerMaxWait   time.Duration `mapstructure:"consumer_max_wait" yaml:"consumer_max_wait"`
	ConsumerMinBytes  int           `mapstructure:"consumer_min_bytes" yaml:"consumer_min_bytes"`
	ConsumerMaxBytes  int           `mapstructure:"consumer_max_bytes" yaml:"consumer_max_bytes"`
}

func DefaultConfig() Config {
	return Config{
		Brokers: []string{"localhost:9092"},

		SASLMechanism: "SCRAM-SHA-256",

		ConnectionTimeout: 10 * time.Second,

		ProducerBatchSize:    100,
		ProducerBatchTimeout: 1 * time.Second,
		ProducerCompression:  "snappy",

		ConsumerGroup:     "spanrunner",
		ConsumerBatchSize: 100,
		ConsumerMaxWait:   500 * time.Millisecond,
		ConsumerMinBytes:  10 * 1024,        // 10KB
		ConsumerMaxBytes:  10 * 1024 * 1024, // 10MB
	}
}

// Mechanism returns the configured SASL mechanism, or nil when SASL is off.
func (c Config) Mechanism() (sasl.Mechanism, error) {
	if !c.SASLEnabled {
		return nil, nil
	}
	switch strings.ToUpper(c.SASLMechanism) {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	case "PLAIN":
		return plain.Mechanism{
			Username: c.SASLUsername,
			Password: c.SASLPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", c.SASLMechanism)
	}
}

// TLS returns the client TLS config, or nil when TLS is off.
func (c Config) TLS() *tls.Config {
	if !c.TLSEnabled {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

func (c Config) Compression() (kafka.Compression, error) {
	switch strings.ToLower(c.ProducerCompression) {
	case "", "none", "uncompressed":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %s", c.ProducerCompression)
	}
}

func (c Config) dialer() (*kafka.Dialer, error) {
	mechanism, err := c.Mechanism()
	if err != nil {
		return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
	}
	timeout := c.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Dialer{
		Timeout:       timeout,
		DualStack:     true,
		SASLMechanism: mechanism,
		TLS:           c.TLS(),
	}, nil
}

func (c Config) transport() (*kafka.Transport, error) {
	mechanism, err := c.Mechanism()
	if err != nil {
		return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
	}
	return &kafka.Transport{
		SASL:        mechanism,
		TLS:         c.TLS(),
		DialTimeout: c.ConnectionTimeout,
	}, nil
}
