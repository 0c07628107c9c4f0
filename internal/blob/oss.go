package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// ossBucket is the subset of *oss.Bucket used here.
type ossBucket interface {
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	DeleteObject(objectKey string, options ...oss.Option) error
	IsObjectExist(objectKey string, options ...oss.Option) (bool, error)
	ListObjects(options ...oss.Option) (oss.ListObjectsResult, error)
}

// OSSConfig holds Aliyun OSS connection settings.
type OSSConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PublicBase string
}

// OSS stores blobs in an Aliyun OSS bucket.
type OSS struct {
	bucket ossBucket
	base   string
}

// NewOSS connects to the configured bucket.
func NewOSS(cfg OSSConfig) (*OSS, error) {
	endpoint := normalizeEndpoint(cfg.Endpoint)
	if endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, errors.New("blob: incomplete oss configuration")
	}
	client, err := oss.New(endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("blob: oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: oss bucket: %w", err)
	}
	base := strings.TrimSpace(cfg.PublicBase)
	if base == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
		base = fmt.Sprintf("https://%s.%s", cfg.Bucket, host)
	}
	return newOSSWithBucket(bucket, base), nil
}

func newOSSWithBucket(bucket ossBucket, base string) *OSS {
	return &OSS{bucket: bucket, base: base}
}

func normalizeEndpoint(ep string) string {
	ep = strings.TrimRight(strings.TrimSpace(ep), "/")
	if ep == "" {
		return ""
	}
	if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
		ep = "https://" + ep
	}
	return ep
}

func (o *OSS) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentDisposition("inline"),
		oss.CacheControl("public, max-age=31536000, immutable"),
	}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if err := o.bucket.PutObject(key, bytes.NewReader(data), opts...); err != nil {
		return "", err
	}
	return o.URL(key), nil
}

func (o *OSS) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := o.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (o *OSS) Exists(ctx context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	return o.bucket.IsObjectExist(key, oss.WithContext(ctx))
}

func (o *OSS) URL(key string) string { return joinURL(o.base, key) }

func (o *OSS) KeyFromURL(url string) (string, bool) { return keyFromURL(o.base, url) }

func (o *OSS) List(ctx context.Context, prefix string, olderThan time.Time) ([]Object, error) {
	marker := oss.Marker("")
	var out []Object
	for {
		res, err := o.bucket.ListObjects(oss.Prefix(prefix), marker, oss.MaxKeys(1000), oss.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			if obj.Key == "" || strings.HasSuffix(obj.Key, "/") {
				continue
			}
			if !olderThan.IsZero() && !obj.LastModified.Before(olderThan) {
				continue
			}
			out = append(out, Object{Key: obj.Key, Size: obj.Size, ModTime: obj.LastModified})
		}
		if !res.IsTruncated {
			return out, nil
		}
		marker = oss.Marker(res.NextMarker)
	}
}

func isNotFound(err error) bool {
	var se oss.ServiceError
	if errors.As(err, &se) {
		return se.StatusCode == 404
	}
	return false
}
