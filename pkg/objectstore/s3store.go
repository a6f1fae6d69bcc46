package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/metrics"
	"github.com/litp/platform/pkg/retry"
)

// S3Store is the production ObjectStore adapter, backed by
// aws-sdk-go-v2 (the S3-shaped client the corpus's AWS-SDK-carrying
// repo already depends on). Every request/response operation is
// wrapped with pkg/retry so a TransientIO failure is retried with
// bounded, jittered backoff before surfacing as PermanentIO; the
// streaming upload behind OpenWrite is not retried.
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	retryCfg  retry.Config
	presigner *s3.PresignClient
}

// NewS3Store wraps an already-configured *s3.Client. bucket/prefix
// scope every operation and bound ClearDown.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		prefix:    prefix,
		retryCfg:  retry.Defaults(),
		presigner: s3.NewPresignClient(client),
	}
}

func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	var nf *s3types.NoSuchKey
	if errors.As(err, &nf) {
		return errs.Wrap(errs.NotFound, err, "object not found")
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return errs.Wrap(errs.NotFound, err, "object not found")
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return errs.Wrap(errs.NotFound, err, "object not found")
		}
		if respErr.HTTPStatusCode() >= 500 || respErr.HTTPStatusCode() == 429 {
			return errs.Wrap(errs.TransientIO, err, "transient object store failure")
		}
		return errs.Wrap(errs.PermanentIO, err, "object store request failed")
	}
	return errs.Wrap(errs.TransientIO, err, "object store request failed")
}

func (s *S3Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + key
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]domain.ObjectRef, error) {
	var out []domain.ObjectRef
	token := ""
	for {
		page, next, err := s.ListPage(ctx, prefix, 1000, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			break
		}
		token = next
	}
	return out, nil
}

func (s *S3Store) ListPage(ctx context.Context, prefix string, size int, token string) ([]domain.ObjectRef, string, error) {
	if size <= 0 || size > 1000 {
		return nil, "", errs.New(errs.InputInvalid, "page size must be between 1 and 1000")
	}

	var out *s3.ListObjectsV2Output
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		metrics.ObjectStoreRetriesTotal.WithLabelValues("list").Inc()
		in := &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			Prefix:  aws.String(s.key(prefix)),
			MaxKeys: aws.Int32(int32(size)),
		}
		if token != "" {
			in.ContinuationToken = aws.String(token)
		}
		res, lerr := s.client.ListObjectsV2(ctx, in)
		if lerr != nil {
			return classifyS3Error(lerr)
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	items := make([]domain.ObjectRef, 0, len(out.Contents))
	for _, obj := range out.Contents {
		items = append(items, domain.ObjectRef{
			Container:    s.bucket,
			Key:          stripPrefix(*obj.Key, s.prefix),
			Size:         derefInt64(obj.Size),
			ETag:         derefStr(obj.ETag),
			LastModified: derefTime(obj.LastModified),
		})
	}

	next := ""
	if out.NextContinuationToken != nil {
		next = *out.NextContinuationToken
	}
	return items, next, nil
}

func (s *S3Store) GetMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	var out ObjectMetadata
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		metrics.ObjectStoreRetriesTotal.WithLabelValues("head").Inc()
		res, herr := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(key)),
		})
		if herr != nil {
			return classifyS3Error(herr)
		}
		out = ObjectMetadata{
			Size:         derefInt64(res.ContentLength),
			ContentType:  derefStr(res.ContentType),
			ETag:         derefStr(res.ETag),
			LastModified: derefTime(res.LastModified),
			UserMetadata: res.Metadata,
		}
		return nil
	})
	return out, err
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.GetMetadata(ctx, key)
	if err == nil {
		return true, nil
	}
	if errs.Is(err, errs.NotFound) {
		return false, nil
	}
	return false, err
}

func (s *S3Store) OpenRead(ctx context.Context, key string) (ReadStream, error) {
	var body io.ReadCloser
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		metrics.ObjectStoreRetriesTotal.WithLabelValues("get").Inc()
		res, gerr := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(key)),
		})
		if gerr != nil {
			return classifyS3Error(gerr)
		}
		body = res.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *S3Store) OpenWrite(ctx context.Context, key, contentType string, metadata map[string]string, partSize int64) (WriteStream, error) {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	pr, pw := io.Pipe()
	stream := &s3WriteStream{pw: pw, done: make(chan error, 1)}

	go func() {
		up := manager.NewUploader(s.client, func(u *manager.Uploader) {
			u.PartSize = partSize
		})
		_, err := up.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(key)),
			Body:        pr,
			ContentType: aws.String(contentType),
			Metadata:    metadata,
		})
		_ = pr.CloseWithError(err)
		stream.done <- err
	}()

	return stream, nil
}

type s3WriteStream struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func (w *s3WriteStream) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *s3WriteStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.pw.Close(); err != nil {
		return err
	}
	if err := <-w.done; err != nil {
		return classifyS3Error(err)
	}
	return nil
}

func (w *s3WriteStream) Abort(_ context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.pw.CloseWithError(fmt.Errorf("write aborted"))
	<-w.done
	return nil
}

func (s *S3Store) Upload(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		metrics.ObjectStoreRetriesTotal.WithLabelValues("put").Inc()
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(key)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
			Metadata:    metadata,
		})
		return classifyS3Error(err)
	})
}

func (s *S3Store) SetMetadata(ctx context.Context, key string, metadata map[string]string) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(s.bucket),
			Key:               aws.String(s.key(key)),
			CopySource:        aws.String(s.bucket + "/" + s.key(key)),
			Metadata:          metadata,
			MetadataDirective: s3types.MetadataDirectiveReplace,
		})
		return classifyS3Error(err)
	})
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(key)),
		})
		if err != nil {
			// Delete is idempotent: a NotFound here is not an error.
			classified := classifyS3Error(err)
			if errs.Is(classified, errs.NotFound) {
				return nil
			}
			return classified
		}
		return nil
	})
}

func (s *S3Store) ClearDown(ctx context.Context) ([]string, error) {
	refs, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0, len(refs))
	for _, ref := range refs {
		if err := s.Delete(ctx, ref.Key); err != nil {
			return deleted, err
		}
		deleted = append(deleted, ref.Key)
	}
	return deleted, nil
}

func (s *S3Store) Presign(key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	req, err := s.presigner.PresignGetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classifyS3Error(err)
	}
	return req.URL, nil
}

func stripPrefix(key, prefix string) string {
	if prefix == "" {
		return key
	}
	if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

var _ Store = (*S3Store)(nil)
