package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

const (
	// DefaultS3Prefix is the key prefix objects are written under.
	DefaultS3Prefix = "gallery"

	s3MetaFilename   = "filename"
	s3MetaUploadedAt = "uploaded-at"
)

// S3Store implements Store using AWS S3. Each blob is one object at
// <prefix>/<id>; filename and upload time travel as user metadata.
type S3Store struct {
	s3Client    *s3.S3
	uploader    *s3manager.Uploader
	bucketName  string
	prefix      string
	concurrency int
}

// NewS3Store creates a store for bucketName using the given session.
func NewS3Store(sess client.ConfigProvider, bucketName, prefix string, concurrency int) (*S3Store, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	if strings.Contains(bucketName, "[") || strings.Contains(bucketName, "]") {
		return nil, fmt.Errorf("S3 bucket name contains placeholders: %s", bucketName)
	}
	if prefix == "" {
		prefix = DefaultS3Prefix
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &S3Store{
		s3Client:    s3.New(sess),
		uploader:    s3manager.NewUploader(sess),
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		concurrency: concurrency,
	}, nil
}

// List returns every blob under the prefix ordered by upload time.
func (s *S3Store) List(ctx context.Context) ([]Metadata, error) {
	var keys []string
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(s.prefix + "/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, s.wrap("list blobs", err)
	}

	metas := make([]*Metadata, len(keys))
	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx)
	for i, key := range keys {
		p.Go(func(ctx context.Context) error {
			id := path.Base(key)
			meta, err := s.head(ctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			metas[i] = meta
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	out := make([]Metadata, 0, len(metas))
	for _, m := range metas {
		if m != nil {
			out = append(out, *m)
		}
	}
	sortByUpload(out)
	return out, nil
}

// Get retrieves a blob from S3.
func (s *S3Store) Get(ctx context.Context, id string) ([]byte, error) {
	output, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, s.wrap("get blob "+id, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w: %w", id, ErrUnavailable, err)
	}
	return data, nil
}

// Put uploads a blob to S3 under a new id.
func (s *S3Store) Put(ctx context.Context, data []byte, req PutRequest) (string, error) {
	id := uuid.NewString()
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(req.ContentType),
		Metadata: map[string]*string{
			s3MetaFilename:   aws.String(req.Filename),
			s3MetaUploadedAt: aws.String(time.Now().UTC().Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		return "", s.wrap("upload blob", err)
	}
	return id, nil
}

// Delete removes a blob from S3. S3 deletes are idempotent, so existence is
// checked first to report false for unknown ids.
func (s *S3Store) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.head(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return false, s.wrap("delete blob "+id, err)
	}
	return true, nil
}

func (s *S3Store) head(ctx context.Context, id string) (*Metadata, error) {
	out, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, s.wrap("head blob "+id, err)
	}

	meta := &Metadata{
		ID:          id,
		Filename:    metadataValue(out.Metadata, s3MetaFilename),
		ContentType: aws.StringValue(out.ContentType),
		Size:        aws.Int64Value(out.ContentLength),
	}
	if ts := metadataValue(out.Metadata, s3MetaUploadedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			meta.UploadedAt = t
		}
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = aws.TimeValue(out.LastModified)
	}
	return meta, nil
}

func (s *S3Store) wrap(op string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket:
			return fmt.Errorf("%s: bucket %s: %w", op, s.bucketName, ErrServiceNotDeployed)
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case request.CanceledErrorCode:
			return fmt.Errorf("%s: %w", op, context.Canceled)
		}
	}
	var rerr awserr.RequestFailure
	if errors.As(err, &rerr) && rerr.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// key creates an S3 key from a blob id.
func (s *S3Store) key(id string) string {
	return s.prefix + "/" + id
}

// metadataValue looks up user metadata case-insensitively; the SDK returns
// header-canonicalised keys.
func metadataValue(m map[string]*string, key string) string {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return aws.StringValue(v)
		}
	}
	return ""
}
