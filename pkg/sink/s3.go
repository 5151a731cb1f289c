package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config configures an S3Sink.
type S3Config struct {
	Bucket string

	// Prefix is prepended to every object key, e.g. "catalog/".
	Prefix string

	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for MinIO.
	Endpoint string

	Region    string
	AccessKey string
	SecretKey string
}

// S3Sink stores one object per record.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink creates an S3 client from cfg. Static credentials are used when
// an access key is given; otherwise the default AWS credential chain applies.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and most S3-compatible stores need path-style addressing
			o.UsePathStyle = true
		}
	})

	return NewS3SinkFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3SinkFromClient wraps an existing client.
func NewS3SinkFromClient(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) key(id catalog.ID) string {
	return s.prefix + RecordName(id)
}

// Exists issues a HEAD request for the record object.
func (s *S3Sink) Exists(ctx context.Context, id catalog.ID) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, recordError(KindS3, "exists", err)
}

// Save uploads the pretty-printed record.
func (s *S3Sink) Save(ctx context.Context, id catalog.ID, payload json.RawMessage) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(prettyJSON(payload)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return recordError(KindS3, "save", err)
	}
	savesTotal.WithLabelValues(KindS3).Inc()
	return nil
}

// List pages through the objects under the prefix.
func (s *S3Sink) List(ctx context.Context) (catalog.IDSet, error) {
	ids := catalog.NewIDSet()

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, recordError(KindS3, "list", err)
		}
		for _, obj := range page.Contents {
			if id, ok := ParseRecordName(path.Base(aws.ToString(obj.Key))); ok {
				ids.Add(id)
			}
		}
	}
	return ids, nil
}

// Close is a no-op; the S3 client holds no resources needing release.
func (s *S3Sink) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
