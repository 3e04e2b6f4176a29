package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var s3Tracer = otel.Tracer("bazaar/artifacts")

// S3Config configures the S3 archive store
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	BaseURL      string
}

// S3Storage stores archives in an S3-compatible object store
type S3Storage struct {
	client  *s3.Client
	bucket  string
	baseURL string
	logger  *logrus.Logger
}

// NewS3Storage creates an S3-backed archive store
func NewS3Storage(ctx context.Context, cfg S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	var awsConfig aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "")),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}, nil
}

// Store implements Storage
func (s *S3Storage) Store(ctx context.Context, key string, data []byte) (string, error) {
	ctx, span := s3Tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
			attribute.Int("content.size", len(data)),
		))
	defer span.End()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload archive")
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	span.SetStatus(codes.Ok, "archive uploaded")
	s.logger.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"key":    key,
		"size":   len(data),
	}).Info("artifact stored")

	return s.baseURL + "/" + strings.TrimPrefix(key, "/"), nil
}

// Get implements Storage
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := s3Tracer.Start(ctx, "S3.GetObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		))
	defer span.End()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get archive")
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	span.SetStatus(codes.Ok, "archive retrieved")
	return result.Body, nil
}

// Exists implements Storage
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("failed to head archive: %w", err)
	}
	return true, nil
}

// Delete implements Storage
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	s.logger.WithField("key", key).Info("artifact deleted")
	return nil
}
