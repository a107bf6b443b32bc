package blob

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3Options configures an S3-compatible bucket.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	PublicURL string // base for returned URLs; defaults to the endpoint
}

// S3 stores objects in a MinIO or S3 bucket.
type S3 struct {
	client *minio.Client
	opts   S3Options
	logger *zap.Logger
}

func NewS3(ctx context.Context, opts S3Options, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
		logger.Info("bucket created", zap.String("bucket", opts.Bucket))
	}
	if opts.PublicURL == "" {
		scheme := "http"
		if opts.Secure {
			scheme = "https"
		}
		opts.PublicURL = scheme + "://" + opts.Endpoint
	}
	return &S3{client: client, opts: opts, logger: logger}, nil
}

func (s *S3) PutFile(ctx context.Context, key, localPath string) (Object, error) {
	if err := validKey(key); err != nil {
		return Object{}, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", localPath, err)
	}

	ct := mimeType(localPath)
	info, err := s.client.PutObject(ctx, s.opts.Bucket, key, f, st.Size(), minio.PutObjectOptions{ContentType: ct})
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug("attachment uploaded", zap.String("key", key), zap.Int64("size", info.Size))

	u, err := url.JoinPath(s.opts.PublicURL, s.opts.Bucket, key)
	if err != nil {
		return Object{}, err
	}
	return Object{URL: u, Size: info.Size, MimeType: ct}, nil
}
