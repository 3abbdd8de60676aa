package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"imocrawl/config"
)

// ArchiveUploader ships extraction snapshots to S3-compatible storage so raw
// scrape output outlives the local extractions directory.
type ArchiveUploader struct {
	client *s3.Client
	bucket string
}

func NewArchiveUploader(ctx context.Context, cfg config.ArchiveConfig) (*ArchiveUploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &ArchiveUploader{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Upload stores one extraction snapshot under extractions/<source>/<name>.
func (u *ArchiveUploader) Upload(ctx context.Context, source, name string, data io.Reader) error {
	key := fmt.Sprintf("extractions/%s/%s", source, name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
