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
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/spanrunner/internal/awsclient"
)

type s3Client struct {
	s3     *awsclient.S3Client
	bucket string
}

func (c *s3Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	ctx, span := c.s3.Tracer.Start(ctx, "cloudstorage.s3PutObject",
		trace.WithAttributes(
			attribute.String("bucket", c.bucket),
			attribute.String("key", key),
			attribute.Int("bytes", len(body)),
		),
	)
	defer span.End()

	_, err := c.s3.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"writer": "spanrunner"},
	})
	recordUpload(ctx, "s3", c.bucket, len(body), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.bucket, key, describeS3Error(err))
	}
	return nil
}

func (c *s3Client) Ping(ctx context.Context) error {
	_, err := c.s3.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", c.bucket, describeS3Error(err))
	}
	return nil
}

// describeS3Error surfaces the service error code, which the SDK buries
// under several layers of operation wrapping.
func describeS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s: %w", apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return err
}
