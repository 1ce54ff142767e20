package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3-compatible object store backend.
type S3Config struct {
	Bucket   string
	Region   string
	KeyID    string
	Secret   string
	Endpoint string // optional custom endpoint (MinIO, Hetzner, ...)
	Prefix   string // optional key prefix inside the bucket
}

// S3 is an object-store-backed Store. Keys map to objects under the
// configured prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds an S3 Store. A custom endpoint switches the client to
// path-style addressing, which S3-compatible providers require.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 bucket is required")
	}
	opts := s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.KeyID, cfg.Secret, "",
		),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return &S3{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Open streams the object body. The SDK response body honors context
// cancellation on subsequent reads.
func (s *S3) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("get %s: %w", path, ErrNotExist)
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return out.Body, nil
}

// Create spools writes to a local temp file and uploads on Close. PutObject
// needs a seekable body for signing, and table files can exceed memory, so
// the spool goes to disk rather than a buffer.
func (s *S3) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	tmp, err := os.CreateTemp("", "leadstore-s3-*")
	if err != nil {
		return nil, fmt.Errorf("put %s: spool: %w", path, err)
	}
	return &s3Writer{ctx: ctx, store: s, path: path, spool: tmp}, nil
}

// Delete removes the object. S3 DeleteObject is a no-op for missing keys,
// matching the ledger's tolerate-replay posture.
func (s *S3) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

type s3Writer struct {
	ctx   context.Context
	store *S3
	path  string
	spool *os.File
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.spool.Write(p) }

func (w *s3Writer) Close() error {
	defer func() {
		name := w.spool.Name()
		w.spool.Close()
		os.Remove(name)
	}()
	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("put %s: rewind spool: %w", w.path, err)
	}
	_, err := w.store.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.store.bucket),
		Key:    aws.String(w.store.key(w.path)),
		Body:   w.spool,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", w.path, err)
	}
	return nil
}
