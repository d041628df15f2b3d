// Package s3 mirrors written outputs to an S3-compatible bucket.
package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/filigrane/internal/scanner"
)

// Options holds the connection settings of the bucket.
type Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
	Prefix     string // prepended to every object key
}

// Storage provides an S3-compatible mirror using MinIO.
// Objects are stored under <prefix>/<run id>/<output name>.
type Storage struct {
	client     *minio.Client
	bucketName string
	prefix     string
	strategy   retry.Strategy
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, opts Options, s retry.Strategy) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, opts.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		zlog.Logger.Info().Str("bucket", opts.BucketName).Msg("bucket created")
	}

	return &Storage{
		client:     client,
		bucketName: opts.BucketName,
		prefix:     strings.Trim(opts.Prefix, "/"),
		strategy:   s,
	}, nil
}

// ObjectKey returns the key under which name is mirrored for a run.
func ObjectKey(prefix, runID, name string) string {
	return path.Join(strings.Trim(prefix, "/"), runID, strings.TrimLeft(name, "/"))
}

// Mirror uploads the file at localPath to the bucket. Each upload attempt
// reopens the file so retries start from the beginning.
func (s *Storage) Mirror(ctx context.Context, runID, name, localPath string) error {
	objectName := ObjectKey(s.prefix, runID, name)

	err := retry.Do(func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		_, err = s.client.PutObject(ctx, s.bucketName, objectName, f, info.Size(), minio.PutObjectOptions{
			ContentType: contentType(name),
		})
		return err
	}, s.strategy)
	if err != nil {
		return fmt.Errorf("failed to mirror %s: %w", objectName, err)
	}

	zlog.Logger.Debug().
		Str("bucket", s.bucketName).
		Str("object", objectName).
		Msg("output mirrored")

	return nil
}

// contentType guesses the stored content type from the output extension.
func contentType(name string) string {
	kind, _ := scanner.Kind(name)
	return kind.ContentType()
}
