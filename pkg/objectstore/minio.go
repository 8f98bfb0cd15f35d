package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"hpcjobs-controlplane/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("objectstore.client", fx.Provide(registerClient, NewArchiver))

func registerClient(c *config.Config) *minio.Client {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Fatal("failed to create MinIO client", zap.Error(err))
	}
	exists, errBucketExists := client.BucketExists(context.Background(), c.Minio.BucketName)
	if errBucketExists != nil {
		zap.L().Fatal("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(errBucketExists))
	}
	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucketExists", exists))
	return client
}

// Archiver copies job output objects into the archive bucket.
type Archiver interface {
	Put(ctx context.Context, archivePath, name string, r io.Reader, size int64) error
	Remove(ctx context.Context, archivePath, name string) error
}

type minioArchiver struct {
	client *minio.Client
	bucket string
}

func NewArchiver(client *minio.Client, cfg *config.Config) Archiver {
	return &minioArchiver{client: client, bucket: cfg.Minio.BucketName}
}

func (a *minioArchiver) Put(ctx context.Context, archivePath, name string, r io.Reader, size int64) error {
	key := path.Join(archivePath, name)
	if _, err := a.client.PutObject(ctx, a.bucket, key, r, size, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}

func (a *minioArchiver) Remove(ctx context.Context, archivePath, name string) error {
	key := path.Join(archivePath, name)
	return a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{})
}
