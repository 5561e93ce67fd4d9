package assets

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gracechurch/publisher/internal/models"
)

// S3API is the part of the S3 client R2Store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// R2Config holds the Cloudflare R2 connection settings.
type R2Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

// R2Store keeps image assets in an S3-compatible bucket. The asset id is the object key.
type R2Store struct {
	client    S3API
	bucket    string
	publicURL string
	now       func() time.Time
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewR2Store builds an S3 client pointed at the R2 endpoint.
func NewR2Store(ctx context.Context, cfg R2Config) (*R2Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	})
	return NewR2StoreWithClient(client, cfg.Bucket, cfg.PublicURL), nil
}

// NewR2StoreWithClient wraps an existing S3 client.
func NewR2StoreWithClient(client S3API, bucket, publicURL string) *R2Store {
	return &R2Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// UploadAsset writes data to images/<yyyy>/<mm>/<uuid>-<filename>.
func (s *R2Store) UploadAsset(ctx context.Context, data []byte, filename, contentType string) (models.Asset, error) {
	name := unsafeKeyChars.ReplaceAllString(path.Base(filename), "_")
	key := fmt.Sprintf("images/%s/%s-%s", s.now().UTC().Format("2006/01"), uuid.NewString(), name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return models.Asset{}, fmt.Errorf("failed to upload %s to R2: %w", key, err)
	}

	url := key
	if s.publicURL != "" {
		url = s.publicURL + "/" + key
	}
	return models.Asset{ID: key, URL: url}, nil
}

// DeleteAsset removes the object. S3 deletes of missing keys succeed.
func (s *R2Store) DeleteAsset(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from R2: %w", id, err)
	}
	return nil
}
