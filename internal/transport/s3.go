package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"uploaddesk/internal/upload"
)

// Presigner is the subset of *s3.PresignClient used for uploads.
type Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Options struct {
	Bucket        string
	Region        string
	Endpoint      string
	KeyPrefix     string
	AccessKey     string
	SecretKey     string
	PresignExpiry time.Duration
}

// S3 uploads each payload with a presigned PUT, streaming the body so
// progress can be reported.
type S3 struct {
	bucket    string
	prefix    string
	expiry    time.Duration
	presigner Presigner
	client    *http.Client
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewS3 builds a presign client from the default AWS config chain, optionally
// pinned to a static key pair and a custom endpoint (MinIO and friends).
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithPresigner(opts, s3.NewPresignClient(client), nil), nil
}

// NewS3WithPresigner wires an explicit presigner and HTTP client.
func NewS3WithPresigner(opts S3Options, presigner Presigner, client *http.Client) *S3 {
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = 15 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &S3{
		bucket:    opts.Bucket,
		prefix:    strings.Trim(opts.KeyPrefix, "/"),
		expiry:    opts.PresignExpiry,
		presigner: presigner,
		client:    client,
	}
}

// Key returns the object key used for a payload.
func (t *S3) Key(id, name string) string {
	return path.Join(t.prefix, id, safeName(name))
}

func (t *S3) Upload(ctx context.Context, id string, h upload.Handle, report func(int)) error {
	key := t.Key(id, h.Name())
	input := &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	}
	if h.MediaType() != "" {
		input.ContentType = aws.String(h.MediaType())
	}
	presigned, err := t.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(t.expiry))
	if err != nil {
		return fmt.Errorf("presign put %s: %w", key, err)
	}

	rc, err := h.Open()
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer func() { _ = rc.Close() }()

	req, err := http.NewRequestWithContext(ctx, presigned.Method, presigned.URL, newProgressReader(ctx, rc, h.Size(), report))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = h.Size()
	for name, values := range presigned.SignedHeader {
		if strings.EqualFold(name, "host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("put %s: %s", key, resp.Status)
	}
	return nil
}
