package s3

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// MockInstance is a map-backed object store keyed bucket then key, seeded
// with whatever files a test needs.
type MockInstance struct {
	mtx   sync.Mutex
	files map[string]map[string][]byte
}

func NewMock(files map[string]map[string][]byte) *MockInstance {
	if files == nil {
		files = map[string]map[string][]byte{}
	}

	return &MockInstance{files: files}
}

func (i *MockInstance) UploadFile(ctx context.Context, input *s3manager.UploadInput) error {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return err
	}

	i.mtx.Lock()
	defer i.mtx.Unlock()

	bucket := aws.StringValue(input.Bucket)
	if i.files[bucket] == nil {
		i.files[bucket] = map[string][]byte{}
	}

	i.files[bucket][aws.StringValue(input.Key)] = data

	return nil
}

func (i *MockInstance) DownloadFile(ctx context.Context, w io.WriterAt, input *awss3.GetObjectInput) error {
	i.mtx.Lock()
	data, ok := i.files[aws.StringValue(input.Bucket)][aws.StringValue(input.Key)]
	i.mtx.Unlock()

	if !ok {
		return fmt.Errorf("s3: no such object %s/%s", aws.StringValue(input.Bucket), aws.StringValue(input.Key))
	}

	_, err := w.WriteAt(data, 0)

	return err
}

func (i *MockInstance) ListBuckets(ctx context.Context) (*awss3.ListBucketsOutput, error) {
	i.mtx.Lock()
	defer i.mtx.Unlock()

	out := &awss3.ListBucketsOutput{}
	for bucket := range i.files {
		out.Buckets = append(out.Buckets, &awss3.Bucket{Name: aws.String(bucket)})
	}

	return out, nil
}

// Object returns the stored bytes for test assertions.
func (i *MockInstance) Object(bucket, key string) ([]byte, bool) {
	i.mtx.Lock()
	defer i.mtx.Unlock()

	data, ok := i.files[bucket][key]

	return data, ok
}

// Keys lists every key in a bucket.
func (i *MockInstance) Keys(bucket string) []string {
	i.mtx.Lock()
	defer i.mtx.Unlock()

	keys := make([]string, 0, len(i.files[bucket]))
	for k := range i.files[bucket] {
		keys = append(keys, k)
	}

	return keys
}
