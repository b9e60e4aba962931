// Package s3 implements the object store on the AWS SDK, for AWS S3 and
// S3-compatible services.
package s3

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/storage"
)

// Client represents an S3 bucket
type Client struct {
	s3Client *s3.Client
	cfg      config.S3Config
	logger   *logrus.Logger
}

// NewClient creates a new S3 client for the configured bucket
func NewClient(ctx context.Context, cfg config.S3Config, logger *logrus.Logger) (*Client, error) {
	s3Client, err := newS3Client(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	return &Client{
		s3Client: s3Client,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// newS3Client initializes an SDK client based on configuration
func newS3Client(ctx context.Context, cfg config.S3Config, logger *logrus.Logger) (*s3.Client, error) {
	httpClient := &http.Client{}

	if cfg.UseSSL {
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
			logger.Infof("Using custom CA certificate from %s", cfg.CustomCAPath)
		}

		if cfg.SkipCertValidation {
			tlsConfig.InsecureSkipVerify = true
			logger.Warn("TLS certificate validation is disabled for S3 connections")
		}

		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	sdkOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" {
		sdkOptions = append(sdkOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, sdkOptions...)
	if err != nil {
		return nil, fmt.Errorf("AWS SDK config initialization error: %w", err)
	}

	s3Options := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.PathStyle
		},
	}
	if cfg.Endpoint != "" {
		logger.Debugf("S3 endpoint=%s region=%s pathStyle=%v", cfg.Endpoint, cfg.Region, cfg.PathStyle)
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return s3.NewFromConfig(awsCfg, s3Options...), nil
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// BucketExists reports whether the bucket is present
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.cfg.Bucket),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check bucket %s: %w", c.cfg.Bucket, err)
}

// CreateBucket creates the bucket in the configured region
func (c *Client) CreateBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(c.cfg.Bucket),
	}
	// us-east-1 rejects an explicit location constraint
	if c.cfg.Region != "" && c.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.cfg.Region),
		}
	}

	if _, err := c.s3Client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
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

	putInput := &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(objectKey),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		putInput.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentEncoding != "" {
		putInput.ContentEncoding = aws.String(opts.ContentEncoding)
	}

	c.logger.Debugf("S3 PutObject: bucket=%s key=%s size=%d", c.cfg.Bucket, objectKey, size)
	if _, err := c.s3Client.PutObject(ctx, putInput); err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			c.logger.Debugf("S3 URL error: %v, URL: %v, Op: %v", urlErr.Err, urlErr.URL, urlErr.Op)
		}
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.cfg.Bucket, objectKey, err)
	}
	return nil
}

// Get opens key for reading
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := storage.JoinKey(c.cfg.Prefix, key)

	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", c.cfg.Bucket, objectKey, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", c.cfg.Bucket, objectKey, err)
	}
	return out.Body, nil
}

// Delete removes key
func (c *Client) Delete(ctx context.Context, key string) error {
	objectKey := storage.JoinKey(c.cfg.Prefix, key)

	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", c.cfg.Bucket, objectKey, err)
	}
	return nil
}

// List returns every object whose key starts with prefix
func (c *Client) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(storage.JoinKey(c.cfg.Prefix, prefix)),
	})

	var objects []storage.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s: %w", c.cfg.Bucket, err)
		}
		for _, obj := range page.Contents {
			o := storage.Object{
				Key:  storage.TrimKey(c.cfg.Prefix, aws.ToString(obj.Key)),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}
	return objects, nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}
