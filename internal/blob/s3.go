package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds construction parameters for the S3 backend.
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional custom endpoint, e.g. MinIO
	AccessKeyID     string // optional, falls back to the default credential chain
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool

	// HTTPClient replaces the SDK transport. Used by tests.
	HTTPClient *http.Client
}

// S3 is a Store backed by one bucket of an S3-compatible service. Keys map to
// object keys directly.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 creates an S3 store.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) Driver() Driver { return DriverS3 }

// Bucket returns the bucket the store writes to.
func (s *S3) Bucket() string { return s.bucket }

// Put buffers the body so the SDK can sign and checksum a seekable payload.
// Create-only semantics are emulated with a HEAD first.
func (s *S3) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if err := checkKey(key); err != nil {
		return Info{}, err
	}
	if !opts.Overwrite {
		switch _, err := s.Head(ctx, key); {
		case err == nil:
			return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
		case !errors.Is(err, ErrNotFound):
			return Info{}, err
		}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = cloneMetadata(opts.Metadata)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Info{}, fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, key, err)
	}
	return s.Head(ctx, key)
}

func (s *S3) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return Info{}, nil, s.wrapErr(key, err)
	}
	info := s.info(key, aws.ToInt64(out.ContentLength), out.ContentType, out.ETag, out.Metadata, out.LastModified)
	return info, out.Body, nil
}

func (s *S3) Head(ctx context.Context, key string) (Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return Info{}, s.wrapErr(key, err)
	}
	return s.info(key, aws.ToInt64(out.ContentLength), out.ContentType, out.ETag, out.Metadata, out.LastModified), nil
}

// Delete issues a HEAD first since S3 deletes are idempotent and do not
// report whether the key existed.
func (s *S3) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := Exists(ctx, s, key)
	if err != nil || !existed {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return false, s.wrapErr(key, err)
	}
	return true, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, Info{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *S3) info(key string, size int64, contentType, etag *string, md map[string]string, lastModified *time.Time) Info {
	lm := time.Now().UTC()
	if lastModified != nil {
		lm = *lastModified
	}
	return Info{
		Key:          key,
		Size:         size,
		ContentType:  aws.ToString(contentType),
		ETag:         strings.Trim(aws.ToString(etag), `"`),
		Metadata:     md,
		LastModified: lm,
	}
}

// httpStatusError is implemented by the SDK's response errors.
type httpStatusError interface {
	error
	HTTPStatusCode() int
}

// wrapErr maps a 404 from the service onto ErrNotFound.
func (s *S3) wrapErr(key string, err error) error {
	var re httpStatusError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, key)
	}
	return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, err)
}
