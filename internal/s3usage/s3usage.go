// Package s3usage measures how many bytes a tenant stores in S3. The result
// feeds the storage quota gate of the subscription engine.
package s3usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrymomot/estatecrm/svc/subscription"
)

var (
	ErrInvalidConfig      = errors.New("s3 usage: bucket and region are required")
	ErrFailedToLoadConfig = errors.New("s3 usage: failed to load aws config")
	ErrListFailed         = errors.New("s3 usage: failed to list objects")
)

// Config locates tenant files. Objects live under Prefix + tenantID + "/".
type Config struct {
	Bucket         string `env:"S3_BUCKET"`
	Region         string `env:"S3_REGION" envDefault:"ap-south-1"`
	AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"S3_SECRET_ACCESS_KEY"`
	Endpoint       string `env:"S3_ENDPOINT"` // S3-compatible services such as MinIO
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	Prefix         string `env:"S3_TENANT_PREFIX" envDefault:"tenants/"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// Counter sums object sizes per tenant.
type Counter struct {
	client s3.ListObjectsV2APIClient
	bucket string
	prefix string
}

// Option configures New.
type Option func(*options)

type options struct {
	client        s3.ListObjectsV2APIClient
	configOptions []func(*config.LoadOptions) error
}

// WithClient uses a pre-built client instead of loading the AWS config.
func WithClient(c s3.ListObjectsV2APIClient) Option {
	return func(o *options) { o.client = c }
}

// WithConfigOption adds an AWS config load option.
func WithConfigOption(fn func(*config.LoadOptions) error) Option {
	return func(o *options) { o.configOptions = append(o.configOptions, fn) }
}

func New(ctx context.Context, cfg Config, opts ...Option) (*Counter, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		loadOpts = append(loadOpts, o.configOptions...)

		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.Join(ErrFailedToLoadConfig, err)
		}
		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Counter{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// TenantBytes walks every page of the tenant's prefix.
func (c *Counter) TenantBytes(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix + tenantID.String() + "/"),
	})

	var total int64
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrListFailed, err)
		}
		for _, obj := range page.Contents {
			total += aws.ToInt64(obj.Size)
		}
	}
	return total, nil
}

// CounterFunc adapts the counter to the storage quota gate.
func (c *Counter) CounterFunc() subscription.CounterFunc {
	return func(ctx context.Context, tenantID uuid.UUID, _ time.Time) (int64, error) {
		return c.TenantBytes(ctx, tenantID)
	}
}
