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

// Package cloudstorage writes encoded span batches to an object store:
// a local directory, S3 or an S3 compatible service (MinIO, GCS interop),
// or Azure Blob Storage.
package cloudstorage

import (
	"context"
	"fmt"
	"strings"

	"github.com/cardinalhq/spanrunner/internal/awsclient"
	"github.com/cardinalhq/spanrunner/internal/azureclient"
)

// Client stores whole objects in one bucket or container.
type Client interface {
	// PutObject writes body under key, replacing any existing object.
	PutObject(ctx context.Context, key string, body []byte, contentType string) error

	// Ping checks that the bucket is reachable and writable by us.
	Ping(ctx context.Context) error
}

type Config struct {
	// Provider is one of "file", "aws", "gcp" or "azure".
	Provider string `mapstructure:"provider" yaml:"provider"`
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	// Path is the root directory for the file provider.
	Path string `mapstructure:"path" yaml:"path"`

	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Role            string `mapstructure:"role" yaml:"role"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
	InsecureTLS     bool   `mapstructure:"insecure_tls" yaml:"insecure_tls"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	StorageAccount string `mapstructure:"storage_account" yaml:"storage_account"`
	AccountKey     string `mapstructure:"account_key" yaml:"account_key"`
}

func DefaultConfig() Config {
	return Config{
		Provider: "file",
		Bucket:   "spans",
		Path:     "/var/lib/spanrunner",
	}
}

func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	switch strings.ToLower(cfg.Provider) {
	case "file", "":
		return newFileClient(cfg.Path, cfg.Bucket)

	case "aws", "gcp":
		mgr, err := awsclient.NewManager(ctx)
		if err != nil {
			return nil, err
		}
		client, err := mgr.GetS3(ctx, s3Options(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return &s3Client{s3: client, bucket: cfg.Bucket}, nil

	case "azure":
		mgr, err := azureclient.NewManager()
		if err != nil {
			return nil, err
		}
		opts := []azureclient.BlobOption{azureclient.WithBlobStorageAccount(cfg.StorageAccount)}
		if cfg.Endpoint != "" {
			opts = append(opts, azureclient.WithBlobEndpoint(cfg.Endpoint))
		}
		if cfg.AccountKey != "" {
			opts = append(opts, azureclient.WithSharedKey(cfg.AccountKey))
		}
		blob, err := mgr.GetBlob(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		return &azureClient{blob: blob, container: cfg.Bucket}, nil

	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s", cfg.Provider)
	}
}

func s3Options(cfg Config) []awsclient.S3Option {
	var opts []awsclient.S3Option
	if cfg.Role != "" {
		opts = append(opts, awsclient.WithRole(cfg.Role))
	}
	if cfg.Region != "" {
		opts = append(opts, awsclient.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(cfg.Endpoint))
	}
	if cfg.UsePathStyle {
		opts = append(opts, awsclient.WithPathStyle())
	}
	if cfg.InsecureTLS {
		opts = append(opts, awsclient.WithInsecureTLS())
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsclient.WithStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey))
	}
	if strings.EqualFold(cfg.Provider, "gcp") {
		opts = append(opts, awsclient.WithGCPProvider())
	}
	return opts
}
