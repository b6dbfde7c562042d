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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/spanrunner/cmd"
)

func stderrLogger(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

// tuneRuntime sizes GOMAXPROCS and the soft memory limit to the container.
// Batches live in memory until flushed, so the limit leaves headroom.
func tuneRuntime() {
	if gomaxecs.IsECS() {
		if _, err := gomaxecs.Set(gomaxecs.WithLogger(stderrLogger)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set maxprocs from ECS task metadata: %v\n", err)
		}
	} else if _, err := maxprocs.Set(maxprocs.Logger(stderrLogger)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set maxprocs from cgroup quota: %v\n", err)
	}

	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.75),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set memory limit: %v\n", err)
	}
}

func main() {
	time.Local = time.UTC // object keys and partitions are always UTC
	tuneRuntime()
	cmd.Execute()
}
