// Package artifact implements the Artifact Sink (C6): streaming reports,
// traces, screenshots, and console logs to object storage under a
// deterministic key scheme, with signed-URL reads (§4.6).
package artifact

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/internal/apperr"
	"github.com/supercheck-io/supercheck/internal/telemetry"
)

// EntityType names what an artifact belongs to, used in its storage key
// (§4.6 key scheme).
type EntityType string

const (
	EntityTest EntityType = "test"
	EntityRun  EntityType = "run"
)

// Sink streams artifacts to S3-compatible object storage.
type Sink struct {
	client           *s3.Client
	uploader         *manager.Uploader
	presign          *s3.PresignClient
	bucketReports    string
	maxFileBytes     int64
	maxRunBytes      int64
}

// Config configures a Sink.
type Config struct {
	Endpoint       string
	Region         string
	ForcePathStyle bool
	Bucket         string
	MaxFileBytes   int64
	MaxRunBytes    int64
}

// NewSink builds a Sink from cfg, resolving credentials the standard AWS
// SDK v2 way (environment, shared config, or instance role).
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Sink{
		client:        client,
		uploader:      manager.NewUploader(client),
		presign:       s3.NewPresignClient(client),
		bucketReports: cfg.Bucket,
		maxFileBytes:  cfg.MaxFileBytes,
		maxRunBytes:   cfg.MaxRunBytes,
	}, nil
}

// Key builds the deterministic storage key for an artifact (§4.6:
// `<entity-type>/<tenant-id>/<project-id>/<entity-id>/<filename>`).
func Key(entityType EntityType, tenantID, projectID, entityID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", entityType, tenantID, projectID, entityID, filename)
}

// PutStream uploads r to key, enforcing the per-file size ceiling (§4.6).
// It returns an s3://<bucket>/<key> URL for the uploaded object.
func (s *Sink) PutStream(ctx context.Context, entityType EntityType, key string, r io.Reader, size int64) (string, error) {
	if s.maxFileBytes > 0 && size > s.maxFileBytes {
		return "", apperr.New(apperr.KindValidation, fmt.Sprintf("artifact exceeds max file size of %d bytes", s.maxFileBytes)).WithField("artifact")
	}

	start := time.Now()
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketReports),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return "", fmt.Errorf("artifact: put stream: %w", err)
	}

	telemetry.ArtifactUploadDuration.WithLabelValues(string(entityType)).Observe(time.Since(start).Seconds())
	telemetry.ArtifactUploadBytesTotal.WithLabelValues(string(entityType)).Add(float64(size))
	return fmt.Sprintf("s3://%s/%s", s.bucketReports, key), nil
}

// SignedRead returns a time-limited signed URL for reading an artifact
// (§4.6).
func (s *Sink) SignedRead(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketReports),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("artifact: signed read: %w", err)
	}
	return req.URL, nil
}

// MaxRunBytes exposes the per-run artifact ceiling so callers (the worker
// pool) can track cumulative upload size across a run's artifacts.
func (s *Sink) MaxRunBytes() int64 { return s.maxRunBytes }
