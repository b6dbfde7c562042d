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

package awsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client   *s3.Client
	Uploader *manager.Uploader
	Tracer   trace.Tracer
}

type s3Config struct {
	roleARN      string
	region       string
	applyConfigs []func(*aws.Config)
	applyS3s     []func(*s3.Options)
}

type S3Option func(*s3Config)

func WithRole(roleARN string) S3Option {
	return func(c *s3Config) {
		c.roleARN = roleARN
	}
}

func WithRegion(region string) S3Option {
	return func(c *s3Config) {
		c.region = region
	}
}

// WithEndpoint points the client at an S3 compatible service such as MinIO.
func WithEndpoint(url string) S3Option {
	return func(c *s3Config) {
		c.applyS3s = append(c.applyS3s, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(url)
		})
	}
}

func WithPathStyle() S3Option {
	return func(c *s3Config) {
		c.applyS3s = append(c.applyS3s, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
}

func WithInsecureTLS() S3Option {
	return func(c *s3Config) {
		c.applyConfigs = append(c.applyConfigs, func(cfg *aws.Config) {
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
			cfg.HTTPClient = &http.Client{Transport: tr}
		})
	}
}

// WithStaticCredentials replaces the default chain with a fixed key pair.
func WithStaticCredentials(accessKeyID, secretAccessKey string) S3Option {
	return func(c *s3Config) {
		c.applyConfigs = append(c.applyConfigs, func(cfg *aws.Config) {
			cfg.Credentials = aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""))
		})
	}
}

// WithGCPProvider adapts the client to the GCS XML interop API, which
// rejects signatures that cover Accept-Encoding and only accepts
// checksums when they are required.
func WithGCPProvider() S3Option {
	return func(c *s3Config) {
		c.applyConfigs = append(c.applyConfigs, func(cfg *aws.Config) {
			cfg.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			cfg.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
		c.applyS3s = append(c.applyS3s, func(o *s3.Options) {
			o.APIOptions = append(o.APIOptions, excludeAcceptEncodingFromSignature)
		})
	}
}

type acceptEncodingKey struct{}

// excludeAcceptEncodingFromSignature lifts Accept-Encoding off the request
// before signing and puts it back afterwards.
func excludeAcceptEncodingFromSignature(stack *middleware.Stack) error {
	const header = "Accept-Encoding"

	stash := middleware.FinalizeMiddlewareFunc("StashAcceptEncoding",
		func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
			req, ok := in.Request.(*smithyhttp.Request)
			if !ok {
				return middleware.FinalizeOutput{}, middleware.Metadata{},
					&v4.SigningError{Err: fmt.Errorf("unexpected request middleware type %T", in.Request)}
			}
			ctx = middleware.WithStackValue(ctx, acceptEncodingKey{}, req.Header.Get(header))
			req.Header.Del(header)
			return next.HandleFinalize(ctx, in)
		})

	restore := middleware.FinalizeMiddlewareFunc("RestoreAcceptEncoding",
		func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
			req, ok := in.Request.(*smithyhttp.Request)
			if !ok {
				return middleware.FinalizeOutput{}, middleware.Metadata{},
					&v4.SigningError{Err: fmt.Errorf("unexpected request middleware type %T", in.Request)}
			}
			if v, _ := middleware.GetStackValue(ctx, acceptEncodingKey{}).(string); v != "" {
				req.Header.Set(header, v)
			}
			return next.HandleFinalize(ctx, in)
		})

	if err := stack.Finalize.Insert(stash, "Signing", middleware.Before); err != nil {
		return err
	}
	return stack.Finalize.Insert(restore, "Signing", middleware.After)
}

// GetS3 builds an S3 client and a multipart uploader over it.
func (m *Manager) GetS3(_ context.Context, opts ...S3Option) (*S3Client, error) {
	sc := s3Config{region: m.baseCfg.Region}
	for _, o := range opts {
		o(&sc)
	}

	cfg := m.baseCfg.Copy()
	cfg.Region = sc.region
	if sc.roleARN != "" {
		p := stscreds.NewAssumeRoleProvider(m.stsClient, sc.roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = m.sessionName
		})
		cfg.Credentials = aws.NewCredentialsCache(p)
	}
	for _, fn := range sc.applyConfigs {
		fn(&cfg)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("no AWS region configured")
	}

	client := s3.NewFromConfig(cfg, sc.applyS3s...)
	return &S3Client{
		Client:   client,
		Uploader: manager.NewUploader(client),
		Tracer:   m.tracer,
	}, nil
}
