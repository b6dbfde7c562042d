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
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/spanrunner/internal/azureclient"
)

type azureClient struct {
	blob      *azureclient.BlobClient
	container string
}

func (c *azureClient) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	ctx, span := c.blob.Tracer.Start(ctx, "cloudstorage.azurePutObject",
		trace.WithAttributes(
			attribute.String("bucket", c.container),
			attribute.String("key", key),
			attribute.Int("bytes", len(body)),
		),
	)
	defer span.End()

	_, err := c.blob.Client.UploadBuffer(ctx, c.container, key, body, &azblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"writer": to.Ptr("spanrunner"),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		},
	})
	recordUpload(ctx, "azure", c.container, len(body), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return fmt.Errorf("failed to upload blob %s/%s: %w", c.container, key, err)
	}
	return nil
}

func (c *azureClient) Ping(ctx context.Context) error {
	_, err := c.blob.Client.ServiceClient().NewContainerClient(c.container).GetProperties(ctx, nil)
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return fmt.Errorf("container %s does not exist", c.container)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("container %s unreachable: HTTP %d %s", c.container, respErr.StatusCode, respErr.ErrorCode)
	}
	return fmt.Errorf("container %s unreachable: %w", c.container, err)
}
