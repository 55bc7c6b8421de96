package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/oralhistory/backend/internal/config"
	"github.com/oralhistory/backend/internal/logging"
)

// ErrObjectNotFound indicates the key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// ACL is the canned access control applied to an object.
type ACL string

const (
	ACLPrivate    ACL = "private"
	ACLPublicRead ACL = "public-read"
)

// ACLFor maps a public flag to the matching canned ACL.
func ACLFor(public bool) ACL {
	if public {
		return ACLPublicRead
	}
	return ACLPrivate
}

// presignMaxTTL is the longest lifetime SigV4 allows for a presigned URL.
const presignMaxTTL = 7 * 24 * time.Hour

const retryAttempts = 3

// UploadResult describes a stored object.
type UploadResult struct {
	Key    string
	URL    string
	Public bool
}

// ObjectInfo is the subset of object metadata the service cares about.
type ObjectInfo struct {
	ContentType   string
	ContentLength int64
	CacheControl  string
	Metadata      map[string]string
	LastModified  time.Time
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type streamUploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage stores media in an S3-compatible bucket such as DigitalOcean Spaces.
type S3Storage struct {
	client    objectAPI
	uploader  streamUploader
	presigner presigner
	bucket    string
	region    string
	baseURL   string
	retryBase time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewS3Storage configures a client targeting the provided object store.
func NewS3Storage(ctx context.Context, cfg config.StorageConfig) (*S3Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 4
		u.LeavePartsOnError = false
	})

	return &S3Storage{
		client:    client,
		uploader:  uploader,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		baseURL:   strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		retryBase: cfg.RetryBaseDelay,
		sleep:     sleepContext,
	}, nil
}

// CacheControlFor picks the Cache-Control header for a stored object.
func CacheControlFor(key, contentType string) string {
	switch ext := strings.ToLower(path.Ext(key)); {
	case strings.HasPrefix(contentType, "video/"):
		return "public, max-age=604800"
	case ext == ".vtt" || ext == ".srt":
		return "public, max-age=3600"
	default:
		return "public, max-age=86400"
	}
}

// PutObject uploads a small buffered payload in a single request.
func (s *S3Storage) PutObject(ctx context.Context, key string, body []byte, contentType string, acl ACL) (UploadResult, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return UploadResult{}, fmt.Errorf("s3 storage: empty key")
	}

	err := s.withRetry(ctx, "put "+key, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			ContentType:   aws.String(contentType),
			CacheControl:  aws.String(CacheControlFor(key, contentType)),
			ACL:           s3types.ObjectCannedACL(acl),
		})
		return err
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("s3 storage put %s: %w", key, err)
	}
	return s.result(ctx, key, acl)
}

// UploadStream uploads body through the multipart uploader. Retries are
// only possible when body can be rewound.
func (s *S3Storage) UploadStream(ctx context.Context, key string, body io.Reader, contentType string, acl ACL) (UploadResult, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return UploadResult{}, fmt.Errorf("s3 storage: empty key")
	}

	seeker, rewindable := body.(io.Seeker)
	err := s.withRetry(ctx, "upload "+key, func(ctx context.Context) error {
		if rewindable {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return permanent(fmt.Errorf("rewind body: %w", err))
			}
		}
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(s.bucket),
			Key:          aws.String(key),
			Body:         body,
			ContentType:  aws.String(contentType),
			CacheControl: aws.String(CacheControlFor(key, contentType)),
			ACL:          s3types.ObjectCannedACL(acl),
		})
		if err != nil && !rewindable {
			return permanent(err)
		}
		return err
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("s3 storage upload %s: %w", key, err)
	}
	return s.result(ctx, key, acl)
}

func (s *S3Storage) result(ctx context.Context, key string, acl ACL) (UploadResult, error) {
	if acl == ACLPublicRead {
		return UploadResult{Key: key, URL: s.PublicURL(key), Public: true}, nil
	}
	signed, err := s.SignedURL(ctx, key, presignMaxTTL)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Key: key, URL: signed}, nil
}

// PublicURL returns the unsigned URL of a public-read object.
func (s *S3Storage) PublicURL(key string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, key)
	}
	return fmt.Sprintf("https://%s.%s.digitaloceanspaces.com/%s", s.bucket, s.region, key)
}

// SignedURL presigns a GET for key valid for ttl.
func (s *S3Storage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > presignMaxTTL {
		ttl = presignMaxTTL
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Download streams the object into dst.
func (s *S3Storage) Download(ctx context.Context, key string, dst io.Writer) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	n, err := io.Copy(dst, out.Body)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", key, err)
	}
	return n, nil
}

// ObjectMetadata returns the stored metadata for key.
func (s *S3Storage) ObjectMetadata(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, fmt.Errorf("head %s: %w", key, err)
	}
	return ObjectInfo{
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		CacheControl:  aws.ToString(out.CacheControl),
		Metadata:      out.Metadata,
		LastModified:  aws.ToTime(out.LastModified),
	}, nil
}

// ObjectExists reports whether key is present.
func (s *S3Storage) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.ObjectMetadata(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetObjectVisibility rewrites the object's ACL by copying it onto itself,
// preserving content type, cache control and user metadata.
func (s *S3Storage) SetObjectVisibility(ctx context.Context, key string, public bool) error {
	key = KeyFromURL(key)
	acl := ACLFor(public)

	err := s.withRetry(ctx, "acl "+key, func(ctx context.Context) error {
		info, err := s.ObjectMetadata(ctx, key)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return permanent(err)
			}
			return err
		}
		cacheControl := info.CacheControl
		if cacheControl == "" {
			cacheControl = CacheControlFor(key, info.ContentType)
		}
		_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(s.bucket),
			Key:               aws.String(key),
			CopySource:        aws.String(s.bucket + "/" + (&url.URL{Path: key}).EscapedPath()),
			MetadataDirective: s3types.MetadataDirectiveReplace,
			ContentType:       aws.String(info.ContentType),
			CacheControl:      aws.String(cacheControl),
			Metadata:          info.Metadata,
			ACL:               s3types.ObjectCannedACL(acl),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("s3 storage set visibility %s: %w", key, err)
	}

	logging.FromContext(ctx).Info("object acl updated", "key", key, "acl", string(acl))
	return nil
}

// DeleteObject removes the object addressed by a key or a full URL.
func (s *S3Storage) DeleteObject(ctx context.Context, keyOrURL string) error {
	key := KeyFromURL(keyOrURL)
	if key == "" {
		return fmt.Errorf("s3 storage: empty key")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 storage delete %s: %w", key, err)
	}
	return nil
}

// KeyFromURL strips the scheme, host and query string from raw, leaving
// the object key. Plain keys are returned without a leading slash.
func KeyFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil {
			return strings.TrimPrefix(u.Path, "/")
		}
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimPrefix(raw, "/")
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
