package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"google.golang.org/api/option"

	"recognition-orchestrator/internal/config"
)

// ErrNotFound is returned by ObjectStore.Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the artifact store contract: exact-key put and get.
// Put overwrites any existing object.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// NewObjectStore picks the backend named by cfg.ArchiveBackend.
func NewObjectStore(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	switch cfg.ArchiveBackend {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("archive backend s3 requested but ARCHIVE_S3_BUCKET is not configured")
		}
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &S3Store{client: client, bucket: cfg.S3Bucket}, nil
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, errors.New("archive backend gcs requested but ARCHIVE_GCS_BUCKET is not configured")
		}
		var opts []option.ClientOption
		if cfg.GCSEndpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.GCSEndpoint), option.WithoutAuthentication())
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		return &GCSStore{bucket: client.Bucket(cfg.GCSBucket)}, nil
	case "local", "":
		return NewLocalStore(cfg.ArchiveLocalDir), nil
	}
	return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
}

// LocalStore keeps artifacts under a directory on disk.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	if baseDir == "" {
		baseDir = "./output"
	}
	return &LocalStore{baseDir: baseDir}
}

func (l *LocalStore) path(key string) string {
	return filepath.Join(l.baseDir, sanitizeKey(key))
}

func (l *LocalStore) Put(_ context.Context, key string, body []byte, _ string) error {
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (l *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean("/" + key)
	return strings.TrimPrefix(key, string(filepath.Separator))
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

// S3Store keeps artifacts in an S3 (or S3-compatible) bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get object s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GCSStore keeps artifacts in a Cloud Storage bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
}

func (g *GCSStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write for %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
