package mock

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
)

// S3 is a mock object store.
type S3 struct {
	mu sync.Mutex

	// Objects maps bucket to key to body.
	Objects map[string]map[string][]byte
	// GetCalls records every fetched bucket/key.
	GetCalls []string
}

// NewS3 creates an empty mock object store.
func NewS3() *S3 {
	return &S3{Objects: make(map[string]map[string][]byte)}
}

// Put stores an object body.
func (m *S3) Put(bucket, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Objects[bucket] == nil {
		m.Objects[bucket] = make(map[string][]byte)
	}
	m.Objects[bucket][key] = body
}

// PutGzippedJSON stores v as a gzip-compressed JSON object, the shape AWS
// Config snapshots are delivered in.
func (m *S3) PutGzippedJSON(bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	m.Put(bucket, key, buf.Bytes())
	return nil
}

// ListObjectsV2 implements aws.S3Client. Keys are returned in lexical order,
// capped by MaxKeys.
func (m *S3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := awssdk.ToString(params.Bucket)
	prefix := awssdk.ToString(params.Prefix)

	var keys []string
	for key := range m.Objects[bucket] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	limit := len(keys)
	if params.MaxKeys != nil && int(*params.MaxKeys) < limit {
		limit = int(*params.MaxKeys)
	}

	out := &s3.ListObjectsV2Output{}
	for _, key := range keys[:limit] {
		out.Contents = append(out.Contents, s3types.Object{Key: awssdk.String(key)})
	}
	return out, nil
}

// GetObject implements aws.S3Client.
func (m *S3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := awssdk.ToString(params.Bucket)
	key := awssdk.ToString(params.Key)
	body, ok := m.Objects[bucket][key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s/%s", bucket, key)
	}
	m.GetCalls = append(m.GetCalls, bucket+"/"+key)

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: awssdk.Int64(int64(len(body))),
	}, nil
}
