package memstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
)

var _ core.ObjectClient = (*ObjectClient)(nil)

type ObjectClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewObjectClient() *ObjectClient {
	return &ObjectClient{objects: map[string][]byte{}}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

func (c *ObjectClient) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
	return "mem://" + objectKey(bucket, key), nil
}

func (c *ObjectClient) DeleteFile(_ context.Context, bucket, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, objectKey(bucket, key))
	return nil
}

func (c *ObjectClient) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.objects[objectKey(bucket, key)]
	if !ok {
		return nil, apperr.NotFound("get object", "object "+objectKey(bucket, key)+" not found")
	}
	return append([]byte(nil), data...), nil
}

func (c *ObjectClient) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, err := c.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Keys lists the stored keys of a bucket under prefix, sorted.
func (c *ObjectClient) Keys(bucket, prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for k := range c.objects {
		if rest, ok := strings.CutPrefix(k, bucket+"/"); ok && strings.HasPrefix(rest, prefix) {
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out
}
