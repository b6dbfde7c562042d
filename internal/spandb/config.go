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

package spandb

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

type Config struct {
	// URL wins over the individual fields when set.
	URL      string `mapstructure:"url" yaml:"url"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
	// MaxConns caps the pool size; zero keeps the pgx default.
	MaxConns int32 `mapstructure:"max_conns" yaml:"max_conns"`
	// Migrate applies the embedded schema migrations at startup.
	Migrate bool `mapstructure:"migrate" yaml:"migrate"`
}

func DefaultConfig() Config {
	return Config{
		Port:    "5432",
		Migrate: true,
	}
}

// ConnectionURL returns a postgresql:// URL for the config. The
// OTEL_SERVICE_NAME, when set, becomes the application_name.
func (c Config) ConnectionURL() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}

	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.DBName == "" {
		missing = append(missing, "dbname")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required database setting(s): %s", strings.Join(missing, ", "))
	}

	port := c.Port
	if port == "" {
		port = "5432"
	}

	u := &url.URL{
		Scheme: "postgresql",
		Host:   c.Host + ":" + port,
		Path:   c.DBName,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if appName := applicationName(os.Getenv("OTEL_SERVICE_NAME")); appName != "" {
		q.Set("application_name", appName)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// applicationName keeps only characters Postgres accepts unquoted and
// truncates to the 63 byte identifier limit.
func applicationName(name string) string {
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
