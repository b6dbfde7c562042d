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

package sink

import (
	"net/url"
	"path"
	"time"

	"github.com/cardinalhq/spanrunner/internal/spans"
)

// ObjectKey lays objects out hive style so query engines can prune by
// partition and hour:
//
//	{prefix}/project={p}/environment={e}/dt=YYYY-MM-DD/hour=HH/{id}.{ext}
func ObjectKey(prefix string, key spans.PartitionKey, t time.Time, id, ext string) string {
	t = t.UTC()
	return path.Join(
		prefix,
		"project="+url.PathEscape(key.Project),
		"environment="+url.PathEscape(key.Environment),
		"dt="+t.Format("2006-01-02"),
		"hour="+t.Format("15"),
		id+"."+ext,
	)
}
