package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Engine stores artefact bytes as objects in an S3-compatible bucket, a
// third pluggable back-end alongside hub-resident and filesystem for
// deployments where the blobs outgrow the hub.
type S3Engine struct {
	client *minio.Client
	bucket string
	prefix string
}

// S3Config carries the connection details parsed out of an s3:// URL.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	UseSSL          bool
}

// NewS3Engine connects to an S3-compatible endpoint and returns an engine
// scoped to cfg.Bucket/cfg.Prefix.
func NewS3Engine(cfg S3Config) (*S3Engine, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connecting to s3 endpoint %s: %w", cfg.Endpoint, err)
	}
	return &S3Engine{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (e *S3Engine) key(hash string) string {
	if e.prefix == "" {
		return hash
	}
	return e.prefix + "/" + hash
}

// Get downloads the object for hash.
func (e *S3Engine) Get(ctx context.Context, hash string) ([]byte, error) {
	obj, err := e.client.GetObject(ctx, e.bucket, e.key(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, &ErrNotFound{Hash: hash}
		}
		return nil, err
	}
	return data, nil
}

// Put uploads data as the object for hash.
func (e *S3Engine) Put(ctx context.Context, hash string, data []byte) error {
	_, err := e.client.PutObject(ctx, e.bucket, e.key(hash), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}
