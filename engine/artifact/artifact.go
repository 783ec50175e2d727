// Package artifact mirrors written run files to an S3 bucket.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/pkg/fn"
)

// Environment variables holding static S3 keys. When unset the default
// AWS credential chain applies.
const (
	EnvAccessKey = "S3_ACCESS_KEY"
	EnvSecretKey = "S3_SECRET_KEY"
)

const parquetType = "application/vnd.apache.parquet"

// Putter is the part of *s3.Client the mirror needs.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client for the sink settings. A custom endpoint
// switches to path-style addressing for S3-compatible stores.
func NewS3Client(ctx context.Context, c config.SinksConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if c.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.S3Region))
	}
	if c.S3Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(c.S3Endpoint))
	}
	if key, secret := os.Getenv(EnvAccessKey), os.Getenv(EnvSecretKey); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = c.S3Endpoint != ""
	}), nil
}

// Mirror uploads files below Root to Bucket, keyed by Prefix plus their
// path relative to Root.
type Mirror struct {
	Client Putter
	Bucket string
	Prefix string
	Root   string
	Retry  fn.RetryOpts
	Logger *slog.Logger
}

// New returns a mirror with the default retry policy.
func New(client Putter, bucket, prefix, root string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{Client: client, Bucket: bucket, Prefix: prefix, Root: root, Retry: fn.DefaultRetry, Logger: logger}
}

// Key returns the object key of a local file.
func (m *Mirror) Key(file string) (string, error) {
	rel, err := filepath.Rel(m.Root, file)
	if err != nil {
		return "", fmt.Errorf("artifact: %s: %w", file, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact: %s is outside %s", file, m.Root)
	}
	return path.Join(m.Prefix, filepath.ToSlash(rel)), nil
}

// Upload puts every file, retrying each one on failure. It stops at the
// first file that cannot be uploaded.
func (m *Mirror) Upload(ctx context.Context, files ...string) error {
	for _, file := range files {
		key, err := m.Key(file)
		if err != nil {
			return err
		}
		err = fn.RetryErr(ctx, m.Retry, func(ctx context.Context) error {
			return m.put(ctx, file, key)
		})
		if err != nil {
			return fmt.Errorf("artifact: upload %s: %w", key, err)
		}
		m.Logger.Debug("artifact uploaded", "bucket", m.Bucket, "key", key)
	}
	return nil
}

func (m *Mirror) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	contentType := "application/octet-stream"
	if filepath.Ext(file) == ".parquet" {
		contentType = parquetType
	}
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	return err
}
