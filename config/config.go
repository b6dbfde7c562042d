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

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/spanrunner/internal/batcher"
	"github.com/cardinalhq/spanrunner/internal/fly"
	"github.com/cardinalhq/spanrunner/internal/healthcheck"
	"github.com/cardinalhq/spanrunner/internal/sink"
	"github.com/cardinalhq/spanrunner/internal/source"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Batcher batcher.Config     `mapstructure:"batcher" yaml:"batcher"`
	Kafka   fly.Config         `mapstructure:"kafka" yaml:"kafka"`
	Source  source.Config      `mapstructure:"source" yaml:"source"`
	Sink    sink.Config        `mapstructure:"sink" yaml:"sink"`
	Health  healthcheck.Config `mapstructure:"health" yaml:"health"`

	// ShutdownTimeout bounds the final drain and flush on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// StatsInterval is how often engine statistics are logged. Zero disables.
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	// PprofPort serves net/http/pprof when positive.
	PprofPort int `mapstructure:"pprof_port" yaml:"pprof_port"`
}

func DefaultConfig() *Config {
	return &Config{
		Batcher:         batcher.DefaultConfig(),
		Kafka:           fly.DefaultConfig(),
		Source:          source.DefaultConfig(),
		Sink:            sink.DefaultConfig(),
		Health:          healthcheck.DefaultConfig(),
		ShutdownTimeout: 30 * time.Second,
		StatsInterval:   time.Minute,
	}
}

// Load reads configuration from a file and environment variables.
// Environment variables use the prefix "SPANRUNNER" and the dot character
// in keys is replaced by an underscore. For example, "kafka.brokers" becomes
// "SPANRUNNER_KAFKA_BROKERS". An empty path searches ConfigPaths for an
// optional config file; a non-empty path must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		for _, p := range ConfigPaths {
			v.AddConfigPath(p)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("kafka.brokers"); b != "" {
		cfg.Kafka.Brokers = strings.Split(b, ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that span packages.
func (c *Config) Validate() error {
	if err := c.Batcher.Validate(); err != nil {
		return err
	}
	if _, err := c.Sink.NormalizedKinds(); err != nil {
		return err
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

const redacted = "REDACTED"

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Kafka.SASLPassword)
	mask(&c.Sink.Database.Password)
	mask(&c.Sink.Database.URL)
	mask(&c.Sink.ObjectStore.SecretAccessKey)
	mask(&c.Sink.ObjectStore.AccountKey)
	return c
}
