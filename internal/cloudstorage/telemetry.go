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

package cloudstorage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	uploadCount  metric.Int64Counter
	uploadBytes  metric.Int64Counter
	uploadErrors metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/spanrunner/internal/cloudstorage")

	var err error
	uploadCount, err = meter.Int64Counter(
		"spanrunner.objstore.upload.count",
		metric.WithDescription("Number of objects uploaded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"spanrunner.objstore.upload.bytes",
		metric.WithDescription("Bytes uploaded to the object store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}

	uploadErrors, err = meter.Int64Counter(
		"spanrunner.objstore.upload.errors",
		metric.WithDescription("Number of failed object uploads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.errors counter: %w", err))
	}
}

func recordUpload(ctx context.Context, provider, bucket string, size int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("bucket", bucket),
	)
	if err != nil {
		uploadErrors.Add(ctx, 1, attrs)
		return
	}
	uploadCount.Add(ctx, 1, attrs)
	uploadBytes.Add(ctx, int64(size), attrs)
}
