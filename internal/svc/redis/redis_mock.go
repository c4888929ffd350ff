package redis

import (
	"context"
	"sync"
	"time"

	"github.com/thumbforge/preview-processor/internal/instance"
)

type MockInstance struct {
	mtx    sync.Mutex
	queues map[string][][]byte
}

// NewMock returns an in-memory queue with the same blocking semantics as
// the real client, for tests that run without a redis server.
func NewMock() *MockInstance {
	return &MockInstance{
		queues: map[string][][]byte{},
	}
}

var _ instance.Redis = (*MockInstance)(nil)

func (i *MockInstance) Ping(ctx context.Context) error {
	return nil
}

func (i *MockInstance) Push(ctx context.Context, queue string, data []byte) error {
	i.mtx.Lock()
	defer i.mtx.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	i.queues[queue] = append([][]byte{cp}, i.queues[queue]...)

	return nil
}

func (i *MockInstance) Fetch(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		i.mtx.Lock()
		if q := i.queues[queue]; len(q) > 0 {
			data := q[len(q)-1]
			i.queues[queue] = q[:len(q)-1]
			i.mtx.Unlock()

			return data, nil
		}
		i.mtx.Unlock()

		if time.Now().After(deadline) {
			return nil, instance.ErrNoJob
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond * 10):
		}
	}
}

// Len reports the queue depth, for test assertions.
func (i *MockInstance) Len(queue string) int {
	i.mtx.Lock()
	defer i.mtx.Unlock()

	return len(i.queues[queue])
}
