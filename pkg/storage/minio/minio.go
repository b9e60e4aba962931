// Package minio implements the object store on the MinIO client.
package minio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/storage"
)

// Client is a MinIO bucket
type Client struct {
	mc     *minio.Client
	cfg    config.S3Config
	logger *logrus.Logger
}

// NewClient connects to the configured MinIO endpoint
func NewClient(cfg config.S3Config, logger *logrus.Logger) (*Client, error) {
	endpoint, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	transport, err := newTransport(cfg, secure)
	if err != nil {
		return nil, err
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    secure,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	logger.Debugf("MinIO endpoint=%s secure=%v bucket=%s", endpoint, secure, cfg.Bucket)
	return &Client{mc: mc, cfg: cfg, logger: logger}, nil
}

// splitEndpoint accepts either host:port or a URL and reports whether TLS is used
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid MinIO endpoint %q: %w", endpoint, err)
	}
	return u.Host, u.Scheme == "https", nil
}

func newTransport(cfg config.S3Config, secure bool) (http.RoundTripper, error) {
	transport, err := minio.DefaultTransport(secure)
	if err != nil {
		return nil, err
	}
	if !secure {
		return transport, nil
	}

	tlsConfig := &tls.Config{}
	if cfg.CustomCAPath != "" && !cfg.SkipCertValidation {
		rootCAs, _ := x509.SystemCertPool()
		if rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}
		caCert, err := os.ReadFile(cfg.CustomCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read custom CA certificate: %w", err)
		}
		if ok := rootCAs.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("failed to append custom CA certificate")
		}
		tlsConfig.RootCAs = rootCAs
	}
	tlsConfig.InsecureSkipVerify = cfg.SkipCertValidation
	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// BucketExists reports whether the bucket is present
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	ok, err := c.mc.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return false, fmt.Errorf("failed to check bucket %s: %w", c.cfg.Bucket, err)
	}
	return ok, nil
}

// CreateBucket creates the bucket
func (c *Client) CreateBucket(ctx context.Context) error {
	err := c.mc.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{Region: c.cfg.Region})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", c.cfg.Bucket, err)
	}
	c.logger.Infof("Created bucket %s", c.cfg.Bucket)
	return nil
}

// Put uploads body under key
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) error {
	objectKey := storage.JoinKey(c.cfg.Prefix, key)
	_, err := c.mc.PutObject(ctx, c.cfg.Bucket, objectKey, body, size, minio.PutObjectOptions{
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", c.cfg.Bucket, objectKey, err)
	}
	return nil
}

// Get opens key for reading
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := storage.JoinKey(c.cfg.Prefix, key)

	obj, err := c.mc.GetObject(ctx, c.cfg.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.wrapGetError(objectKey, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, c.wrapGetError(objectKey, err)
	}
	return obj, nil
}

func (c *Client) wrapGetError(objectKey string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s/%s: %w", c.cfg.Bucket, objectKey, storage.ErrNotFound)
	}
	return fmt.Errorf("failed to download %s/%s: %w", c.cfg.Bucket, objectKey, err)
}

// Delete removes key
func (c *Client) Delete(ctx context.Context, key string) error {
	objectKey := storage.JoinKey(c.cfg.Prefix, key)
	if err := c.mc.RemoveObject(ctx, c.cfg.Bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c.cfg.Bucket, objectKey, err)
	}
	return nil
}

// List returns every object whose key starts with prefix
func (c *Client) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	var objects []storage.Object
	for info := range c.mc.ListObjects(ctx, c.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    storage.JoinKey(c.cfg.Prefix, prefix),
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", c.cfg.Bucket, info.Err)
		}
		objects = append(objects, storage.Object{
			Key:          storage.TrimKey(c.cfg.Prefix, info.Key),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	return objects, nil
}

// PresignGet creates a time-limited download URL for key
func (c *Client) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	objectKey := storage.JoinKey(c.cfg.Prefix, key)
	u, err := c.mc.PresignedGetObject(ctx, c.cfg.Bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	c.logger.Infof("Generated presigned URL for %s (expires in %s)", objectKey, expiry)
	return u.String(), nil
}
