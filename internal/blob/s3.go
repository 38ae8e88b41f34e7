package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of the S3 API the backend needs.
type S3Client interface {
	GetObject(ctx context.Context, params *s3aws.GetObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
}

type S3Config struct {
	Bucket         string
	Key            string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // MinIO and other S3-compatible services
	ForcePathStyle bool
}

// S3 keeps the payload in one object. A PUT replaces the object atomically.
type S3 struct {
	client S3Client
	bucket string
	key    string
}

// NewS3 builds an AWS client from cfg. Static credentials are used when both
// parts are set, otherwise the default provider chain applies.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" || cfg.Region == "" || cfg.Key == "" {
		return nil, errors.New("blob: s3 bucket, region and key are required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	client := s3aws.NewFromConfig(awsConfig, func(o *s3aws.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Key), nil
}

func NewS3WithClient(client S3Client, bucket, key string) *S3 {
	return &S3{client: client, bucket: bucket, key: key}
}

func (s *S3) Load(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3aws.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("blob: get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: read s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return data, nil
}

func (s *S3) Save(ctx context.Context, payload []byte) error {
	_, err := s.client.PutObject(ctx, &s3aws.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("blob: put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}
