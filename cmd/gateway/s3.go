package gateway

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// S3Options holds connection settings for an S3-compatible endpoint
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Store implements ObjectStore on aws-sdk-go
type S3Store struct {
	client     s3iface.S3API
	downloader s3manageriface.DownloaderAPI
}

// NewS3Store wraps existing clients
func NewS3Store(client s3iface.S3API, downloader s3manageriface.DownloaderAPI) *S3Store {
	return &S3Store{client: client, downloader: downloader}
}

// DialS3 creates a session with static credentials and path-style addressing
func DialS3(opts S3Options) (*S3Store, error) {
	cfg := &aws.Config{
		Region:           aws.String(opts.Region),
		Credentials:      credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return NewS3Store(s3.New(sess), s3manager.NewDownloader(sess)), nil
}

// ListKeys pages through the whole bucket
func (s *S3Store) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}

	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return keys, nil
}

// Download fetches key into w
func (s *S3Store) Download(ctx context.Context, bucket, key string, w io.WriterAt) error {
	_, err := s.downloader.DownloadWithContext(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
