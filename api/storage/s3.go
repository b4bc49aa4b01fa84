package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"nodeship/api/logging"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Client archives release artifacts (coverage and test reports) in an
// S3-compatible bucket.
type Client struct {
	mc     *minio.Client
	config Config
	log    *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 client: no bucket configured")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &Client{mc: mc, config: cfg, log: logging.OrNop(log)}, nil
}

// EnsureBucket creates the archive bucket when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	name := c.config.Bucket
	exists, err := c.mc.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", name, err)
	}
	if exists {
		return nil
	}
	region := c.config.Region
	if region == "" {
		region = "us-east-1"
	}
	if err := c.mc.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	c.log.Info("s3 bucket created", zap.String("bucket", name))
	return nil
}

// Archive uploads the file at path under key.
func (c *Client) Archive(ctx context.Context, key, path string) error {
	info, err := c.mc.FPutObject(ctx, c.config.Bucket, key, path, minio.PutObjectOptions{
		ContentType: contentTypeFor(path),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	c.log.Info("report archived", zap.String("bucket", c.config.Bucket), zap.String("key", key), zap.Int64("bytes", info.Size))
	return nil
}

// List returns the archived keys of one release.
func (c *Client) List(ctx context.Context, releaseID string) ([]string, error) {
	prefix := ReleasePrefix(releaseID)
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.mc.BucketExists(ctx, c.config.Bucket)
	return err
}

func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// ReleasePrefix is the key prefix holding a release's reports.
func ReleasePrefix(releaseID string) string {
	return "releases/" + releaseID + "/"
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return "application/xml"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	case ".txt", ".log":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
