// Package s3blob implements the remote blob store on S3 or an
// S3-compatible server such as MinIO.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/filex"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
)

const (
	scheme       = "s3"
	digestHeader = "blake2b"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// objectAPI is the part of *s3.Client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Config holds the connection settings.
type Config struct {
	Region   string
	User     string
	Password string
	Bucket   string

	// Endpoint overrides the AWS endpoint, e.g. a MinIO URL. Path-style
	// addressing is used when it is set.
	Endpoint string
}

// Store is a remote.BlobStore on one bucket.
type Store struct {
	api    objectAPI
	bucket string
}

var (
	_ remote.BlobStore = (*Store)(nil)
	_ remote.Pinger    = (*Store)(nil)
)

// New builds an S3 client from cfg with static credentials.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket: %w", common.ErrValidation)
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.User,
			cfg.Password,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{api: client, bucket: cfg.Bucket}, nil
}

// Ref returns the reference stored on readings for key.
func (s *Store) Ref(key string) string {
	return remote.BlobRef{Scheme: scheme, Bucket: s.bucket, Key: key}.String()
}

// Owns reports whether ref names an object in this store's bucket.
func (s *Store) Owns(ref remote.BlobRef) bool {
	return ref.Scheme == scheme && ref.Bucket == s.bucket
}

// Put uploads localFile to key. The object carries the BLAKE2b digest of
// its content so a repeated upload of the same photo is recognisable.
func (s *Store) Put(ctx context.Context, key, localFile string) (string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localFile, err)
	}
	defer f.Close()

	digest, err := filex.DigestReader(f)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", localFile, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", localFile, err)
	}

	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: map[string]string{digestHeader: digest},
	}
	if ct := mime.TypeByExtension(filepath.Ext(localFile)); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := s.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return s.Ref(key), nil
}

// Delete removes key. S3 reports success for missing keys; servers that
// answer NoSuchKey are mapped to common.ErrorNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, common.ErrorNotFound)
	}
	return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, key, err)
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}
