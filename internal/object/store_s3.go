package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sealwire/internal/domain"
	"sealwire/internal/signing"
	"sealwire/pkg/platform/sentinel"
)

const objectKeyPrefix = "objects/"

// S3Store keeps signed objects in an S3 bucket, one object per link.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds a Store on the given bucket using default AWS config
// resolution.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3Store) key(link domain.Link) *string {
	return aws.String(objectKeyPrefix + string(link))
}

func (s *S3Store) Get(ctx context.Context, link domain.Link) (*domain.SignedObject, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(link),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", link, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", link, err)
	}
	obj := &domain.SignedObject{}
	if err := obj.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	obj.Link = link
	return obj, nil
}

func (s *S3Store) Put(ctx context.Context, obj *domain.SignedObject) (domain.Link, error) {
	link, err := signing.LinkOf(obj.Raw)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         s.key(link),
		Body:        bytes.NewReader(obj.Raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", link, err)
	}
	obj.Link = link
	return link, nil
}

func (s *S3Store) Del(ctx context.Context, link domain.Link) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(link),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", link, err)
	}
	return nil
}
