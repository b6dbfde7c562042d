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

package azureclient

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.opentelemetry.io/otel/trace"
)

type BlobClient struct {
	Client *azblob.Client
	Tracer trace.Tracer
}

type blobConfig struct {
	storageAccount string
	endpoint       string
	accountKey     string
}

type BlobOption func(*blobConfig)

func WithBlobStorageAccount(storageAccount string) BlobOption {
	return func(c *blobConfig) {
		c.storageAccount = storageAccount
	}
}

// WithBlobEndpoint sets the service URL. Without it the public cloud
// endpoint for the storage account is used.
func WithBlobEndpoint(endpoint string) BlobOption {
	return func(c *blobConfig) {
		c.endpoint = endpoint
	}
}

// WithSharedKey authenticates with an account key instead of the
// manager's token credential. Azurite only supports this mode.
func WithSharedKey(accountKey string) BlobOption {
	return func(c *blobConfig) {
		c.accountKey = accountKey
	}
}

func (m *Manager) GetBlob(opts ...BlobOption) (*BlobClient, error) {
	bc := blobConfig{}
	for _, o := range opts {
		o(&bc)
	}

	if bc.storageAccount == "" {
		return nil, fmt.Errorf("storage account is required")
	}
	if bc.endpoint == "" {
		bc.endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", bc.storageAccount)
	}

	var (
		client *azblob.Client
		err    error
	)
	if bc.accountKey != "" {
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(bc.storageAccount, bc.accountKey)
		if err != nil {
			return nil, fmt.Errorf("invalid shared key: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(bc.endpoint, cred, nil)
	} else {
		client, err = azblob.NewClient(bc.endpoint, m.cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobClient{Client: client, Tracer: m.tracer}, nil
}
