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

const (
	ServiceName = "spanrunner"

	// EnvPrefix prefixes every environment variable the service reads.
	EnvPrefix = "SPANRUNNER"

	// ConfigName is the base name searched for when no file is given.
	ConfigName = "config"
)

// ConfigPaths are searched, in order, for ConfigName.
var ConfigPaths = []string{".", "/etc/spanrunner"}
