package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

// S3Client stores objects in a single bucket.
type S3Client struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	config        *Config
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, cfg *Config) (*S3Client, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible providers (MinIO, B2) expect path-style URLs
			o.UsePathStyle = true
		}
	})

	log.Infof("[Storage] Initialized S3 client for bucket: %s", cfg.BucketName)
	return &S3Client{
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		config:        cfg,
	}, nil
}

// NewS3ClientFromEnv loads Config from the environment.
func NewS3ClientFromEnv(ctx context.Context) (*S3Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewS3Client(ctx, cfg)
}

func (c *S3Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = ContentType(key)
	}
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"upload-source": "mockupsuite",
		},
	})
	if err != nil {
		return categorize(err, "upload failed")
	}
	log.Debugf("[Storage] Uploaded s3://%s/%s (%d bytes)", c.config.BucketName, key, len(data))
	return nil
}

func (c *S3Client) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, categorize(err, "download failed")
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStorage, err, "download failed")
	}
	return data, nil
}

func (c *S3Client) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.config.SignedURLTTL
	}
	req, err := c.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.config.BucketName),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", categorize(err, "signing failed")
	}
	return req.URL, nil
}

// Delete is idempotent on S3; missing keys succeed.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return categorize(err, "delete failed")
	}
	return nil
}

func categorize(err error, message string) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return apperror.Wrap(apperror.KindNotFound, err, "object not found")
	}
	if apperror.IsNetwork(err) {
		return apperror.Wrap(apperror.KindNetwork, err, message)
	}
	return apperror.Wrap(apperror.KindStorage, err, message)
}
