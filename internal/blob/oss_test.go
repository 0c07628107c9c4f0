package blob

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type fakeBucket struct {
	objects map[string]oss.ObjectProperties
	pages   int
}

func (f *fakeBucket) PutObject(key string, r io.Reader, _ ...oss.Option) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = oss.ObjectProperties{Key: key, Size: int64(len(data)), LastModified: time.Now()}
	return nil
}

func (f *fakeBucket) DeleteObject(key string, _ ...oss.Option) error {
	if _, ok := f.objects[key]; !ok {
		return oss.ServiceError{StatusCode: 404, Code: "NoSuchKey"}
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBucket) IsObjectExist(key string, _ ...oss.Option) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

// ListObjects returns one object per call, in key order, to exercise marker pagination.
func (f *fakeBucket) ListObjects(_ ...oss.Option) (oss.ListObjectsResult, error) {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	i := f.pages
	f.pages++
	if i >= len(keys) {
		return oss.ListObjectsResult{}, nil
	}
	res := oss.ListObjectsResult{Objects: []oss.ObjectProperties{f.objects[keys[i]]}}
	if i < len(keys)-1 {
		res.IsTruncated = true
		res.NextMarker = keys[i]
	}
	return res, nil
}

func TestOSSStore(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]oss.ObjectProperties{}}
	store := newOSSWithBucket(bucket, "https://news.oss-ap-south-1.aliyuncs.com")
	ctx := context.Background()

	url, err := store.Put(ctx, "uploads/u1/a.jpg", []byte("jpg"), "image/jpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://news.oss-ap-south-1.aliyuncs.com/uploads/u1/a.jpg" {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := store.Put(ctx, "uploads/u1/b.jpg", []byte("jpg"), "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	objs, err := store.List(ctx, "uploads/", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected both objects across pages, got %+v", objs)
	}

	if err := store.Delete(ctx, "uploads/u1/a.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "uploads/u1/a.jpg"); err != nil {
		t.Fatalf("Delete of missing key should succeed, got %v", err)
	}
	if ok, _ := store.Exists(ctx, "uploads/u1/a.jpg"); ok {
		t.Fatalf("object still exists")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"oss-ap-south-1.aliyuncs.com":          "https://oss-ap-south-1.aliyuncs.com",
		"http://localhost:9000/":               "http://localhost:9000",
		" https://oss-cn-hangzhou.aliyuncs.com": "https://oss-cn-hangzhou.aliyuncs.com",
		"":                                     "",
	}
	for in, want := range cases {
		if got := normalizeEndpoint(in); got != want {
			t.Fatalf("normalizeEndpoint(%q)=%q want %q", in, got, want)
		}
	}
}
