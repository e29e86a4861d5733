package s3fs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// memoryBucket is an in-memory stand-in for one S3 bucket.
type memoryBucket struct {
	mu       sync.Mutex
	name     string
	objects  map[string]*storedObject
	pageSize int
	calls    map[string]int
}

type storedObject struct {
	data        []byte
	meta        map[string]string
	contentType string
	modified    time.Time
}

func newMemoryBucket(name string) *memoryBucket {
	return &memoryBucket{
		name:     name,
		objects:  make(map[string]*storedObject),
		pageSize: 1000,
		calls:    make(map[string]int),
	}
}

// keys returns the stored keys in order.
func (b *memoryBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.objects))
}

func (b *memoryBucket) object(key string) (*storedObject, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	return obj, ok
}

// seed stores an object the way a foreign tool would, without metadata.
func (b *memoryBucket) seed(key, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &storedObject{data: []byte(content), modified: time.Now()}
}

func (b *memoryBucket) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *memoryBucket) enter(op string, bucket *string) error {
	b.calls[op]++
	if aws.ToString(bucket) != b.name {
		return &types.NoSuchBucket{Message: aws.String("no such bucket")}
	}
	return nil
}

func (b *memoryBucket) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["HeadBucket"]++
	if aws.ToString(in.Bucket) != b.name {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (b *memoryBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("HeadObject", in.Bucket); err != nil {
		return nil, err
	}
	obj, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	modified := obj.modified
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  &modified,
		Metadata:      maps.Clone(obj.meta),
	}, nil
}

func (b *memoryBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("GetObject", in.Bucket); err != nil {
		return nil, err
	}
	obj, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}

	data := obj.data
	if in.Range != nil {
		var start, end int
		if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if start >= len(data) {
			return nil, fmt.Errorf("invalid range %q", aws.ToString(in.Range))
		}
		data = data[start:min(end+1, len(data))]
	}
	modified := obj.modified
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(bytes.Clone(data))),
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  &modified,
		Metadata:      maps.Clone(obj.meta),
	}, nil
}

func (b *memoryBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("PutObject", in.Bucket); err != nil {
		return nil, err
	}
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	b.objects[aws.ToString(in.Key)] = &storedObject{
		data:        data,
		meta:        maps.Clone(in.Metadata),
		contentType: aws.ToString(in.ContentType),
		modified:    time.Now(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (b *memoryBucket) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("CopyObject", in.Bucket); err != nil {
		return nil, err
	}

	source, ok := strings.CutPrefix(aws.ToString(in.CopySource), b.name+"/")
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("no such source bucket")}
	}
	key, err := url.PathUnescape(source)
	if err != nil {
		return nil, err
	}
	src, ok := b.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}

	meta := maps.Clone(src.meta)
	if in.MetadataDirective == types.MetadataDirectiveReplace {
		meta = maps.Clone(in.Metadata)
	}
	b.objects[aws.ToString(in.Key)] = &storedObject{
		data:        bytes.Clone(src.data),
		meta:        meta,
		contentType: src.contentType,
		modified:    time.Now(),
	}
	return &s3.CopyObjectOutput{}, nil
}

func (b *memoryBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("DeleteObject", in.Bucket); err != nil {
		return nil, err
	}
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 pages through keys in order. The continuation token is the
// last key returned, or a common prefix followed by a maximal rune so that
// the keys it grouped are skipped.
func (b *memoryBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ListObjectsV2", in.Bucket); err != nil {
		return nil, err
	}

	prefix, delimiter := aws.ToString(in.Prefix), aws.ToString(in.Delimiter)
	token := aws.ToString(in.ContinuationToken)
	limit := b.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	grouped := make(map[string]bool)
	last, count := "", 0
	for _, key := range slices.Sorted(maps.Keys(b.objects)) {
		if !strings.HasPrefix(key, prefix) || (token != "" && key <= token) {
			continue
		}
		if delimiter != "" {
			if i := strings.Index(key[len(prefix):], delimiter); i >= 0 {
				common := key[:len(prefix)+i+len(delimiter)]
				if grouped[common] {
					continue
				}
				if count == limit {
					out.IsTruncated = aws.Bool(true)
					break
				}
				grouped[common] = true
				out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(common)})
				last, count = common+"\U0010FFFF", count+1
				continue
			}
		}
		if count == limit {
			out.IsTruncated = aws.Bool(true)
			break
		}
		obj := b.objects[key]
		modified := obj.modified
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: &modified,
		})
		last, count = key, count+1
	}

	out.KeyCount = aws.Int32(int32(count))
	if aws.ToBool(out.IsTruncated) {
		out.NextContinuationToken = aws.String(last)
	}
	return out, nil
}
