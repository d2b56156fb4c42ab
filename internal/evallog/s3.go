package evallog

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rotisserie/eris"
)

// s3API is the subset of *s3.Client the backend uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options locates the log object in S3 or an S3-compatible store.
type S3Options struct {
	// Endpoint, when set, points at an S3-compatible server such as MinIO
	// and switches to path-style addressing.
	Endpoint  string
	Region    string
	Bucket    string
	Key       string
	AccessKey string
	SecretKey string
}

// S3Backend keeps the log as a single object. The version is the object
// ETag; writes are conditional on If-Match, or If-None-Match: * on first write.
type S3Backend struct {
	client s3API
	bucket string
	key    string
}

// NewS3Backend loads AWS configuration and creates a backend from opts.
// Static credentials are used when both keys are set, otherwise the default
// credential chain applies.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, eris.New("evallog: s3 bucket and key are required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "evallog: load aws config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Backend(client, opts.Bucket, opts.Key), nil
}

func newS3Backend(client s3API, bucket, key string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, key: key}
}

// Name returns the backend name.
func (b *S3Backend) Name() string {
	return "s3://" + b.bucket + "/" + b.key
}

// Read fetches the object, or returns nil if it does not exist.
func (b *S3Backend) Read(ctx context.Context) (*Blob, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if hasS3Code(err, "NoSuchKey", "NotFound") {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "evallog: get %s", b.Name())
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "evallog: read %s", b.Name())
	}
	etag := aws.ToString(out.ETag)
	if etag == "" {
		return nil, eris.Errorf("evallog: %s returned no etag", b.Name())
	}
	return &Blob{Data: data, Version: Version(etag)}, nil
}

// Write puts data on the condition that the object is still at base.
func (b *S3Backend) Write(ctx context.Context, data []byte, base Version, _ string) (Version, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType),
	}
	if base == NoVersion {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(string(base))
	}

	out, err := b.client.PutObject(ctx, in)
	if err != nil {
		if hasS3Code(err, "PreconditionFailed", "ConditionalRequestConflict") {
			return NoVersion, &ConflictError{Source: b.Name(), Base: base, Err: err}
		}
		return NoVersion, eris.Wrapf(err, "evallog: put %s", b.Name())
	}
	etag := aws.ToString(out.ETag)
	if etag == "" {
		return NoVersion, eris.Errorf("evallog: %s put returned no etag", b.Name())
	}
	return Version(etag), nil
}

func hasS3Code(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}
