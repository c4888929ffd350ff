package instance

import (
	"context"
	"errors"
	"time"
)

// ErrNoJob is returned by Fetch when the blocking pop times out without a
// message. Callers loop on it.
var ErrNoJob = errors.New("no job available")

type Redis interface {
	Ping(ctx context.Context) error

	// Push appends a payload to the named list.
	Push(ctx context.Context, queue string, data []byte) error

	// Fetch blocks up to timeout for the next payload on the named list,
	// returning ErrNoJob on timeout.
	Fetch(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}
