// Package s3uploader pushes report artifacts (the stats CSV and JSON
// results) to an S3 bucket after a run.
package s3uploader

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Uploader struct {
	client *s3.Client
}

func New(accessKey, secretKey, region string) (*Uploader, error) {
	creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(creds),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("s3uploader: %w", err)
	}

	client := s3.NewFromConfig(cfg)

	return &Uploader{
		client: client,
	}, nil
}

func (u *Uploader) Upload(ctx context.Context, bucketName, key string, body io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
		Body:   body,
	}

	_, err := u.client.PutObject(ctx, input)
	if err != nil {
		return err
	}

	return nil
}
