// Package objstore uploads backup files to S3-compatible object storage.
//
// Backups land on local disk first.  When a bucket is configured the fleet
// backup job hands the finished file to an Uploader, which stores it under
// `<prefix>/<file name>` and reports the object key.
package objstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config points at a bucket.  Endpoint is only needed for non-AWS stores
// such as MinIO or Ceph RGW.
type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// PutAPI is the slice of *s3.Client the uploader calls.
type PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes files to one bucket.
type Uploader struct {
	api    PutAPI
	bucket string
	prefix string
}

// New builds an Uploader with static credentials.
func New(cfg Config) *Uploader {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return NewWithAPI(s3.New(opts), cfg.Bucket, cfg.Prefix)
}

// NewWithAPI builds an Uploader on an existing client.
func NewWithAPI(api PutAPI, bucket, prefix string) *Uploader {
	return &Uploader{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Bucket returns the target bucket name.
func (u *Uploader) Bucket() string { return u.bucket }

// UploadFile stores the file at localPath and returns its object key.
func (u *Uploader) UploadFile(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat backup: %w", err)
	}

	key := path.Join(u.prefix, filepath.Base(localPath))
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/sql"),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", u.bucket, key, err)
	}
	return key, nil
}
