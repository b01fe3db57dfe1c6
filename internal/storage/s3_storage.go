package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"kostfinder/internal/config"
)

// presignExpiry is how long a presigned upload URL stays valid.
const presignExpiry = 15 * time.Minute

// IS3Storage adds direct client uploads on top of IImageStore.
type IS3Storage interface {
	IImageStore
	GeneratePresignedPutURL(ctx context.Context, userID, filename, contentType string) (*UploadResult, string, error)
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	bucket        string
	baseURL       string
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

// NewS3Storage creates a new S3 storage service.
func NewS3Storage(ctx context.Context, cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(ctx,
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &s3Storage{
		bucket:        cfg.AwsS3Bucket,
		baseURL:       strings.TrimRight(cfg.ImageBaseS3URL, "/"),
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
	}, nil
}

func (s *s3Storage) Provider() string { return config.ImageProviderS3 }

func (s *s3Storage) objectKey(prefix, filename string) string {
	return fmt.Sprintf("%s/%s_%s", prefix, uuid.NewString(), SanitizeFilename(filename))
}

func (s *s3Storage) publicURL(key string) string {
	return s.baseURL + "/" + key
}

// Upload stores the image under a fresh key and returns its public URL.
func (s *s3Storage) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*UploadResult, error) {
	key := s.objectKey("images", filename)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return &UploadResult{URL: s.publicURL(key), Key: key}, nil
}

// Open downloads an object. The caller closes the reader.
func (s *s3Storage) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrImageNotFound
		}
		return nil, "", fmt.Errorf("failed to get %s from S3: %w", key, err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// Replace overwrites the object stored under key.
func (s *s3Storage) Replace(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to overwrite %s in S3: %w", key, err)
	}
	return nil
}

// GeneratePresignedPutURL creates a pre-signed URL the client can PUT the
// image to directly. It returns the final public URL and key along with the
// upload URL.
func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, userID, filename, contentType string) (*UploadResult, string, error) {
	key := s.objectKey("uploads/"+userID, filename)

	presignedReq, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", key, err)
	}
	return &UploadResult{URL: s.publicURL(key), Key: key}, presignedReq.URL, nil
}
