package pipeline

import (
	"fmt"
	"sync"

	"github.com/thumbforge/preview-processor/internal/kernel"
)

// PixelFormat describes the layout of caller-supplied raw pixel input.
type PixelFormat uint8

const (
	FormatRGBA PixelFormat = iota
	FormatRGB
)

func (f PixelFormat) channels() int {
	if f == FormatRGB {
		return 3
	}

	return 4
}

// PixelInput is raw decoded pixel data handed to FromPixels. The pipeline
// never takes ownership of Pix; it copies what it needs.
type PixelInput struct {
	Pix    []byte
	Width  int
	Height int
	Format PixelFormat
}

func (in PixelInput) toImage() (*kernel.Image, error) {
	if in.Width <= 0 || in.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, in.Width, in.Height)
	}

	ch := in.Format.channels()
	if len(in.Pix) != in.Width*in.Height*ch {
		return nil, fmt.Errorf("%w: pixel buffer is %d bytes, want %d", ErrInvalidDimensions, len(in.Pix), in.Width*in.Height*ch)
	}

	img := kernel.NewImage(in.Width, in.Height)
	if ch == 4 {
		copy(img.Pix, in.Pix)
		return img, nil
	}

	for i, o := 0, 0; i < len(in.Pix); i, o = i+3, o+4 {
		img.Pix[o] = in.Pix[i]
		img.Pix[o+1] = in.Pix[i+1]
		img.Pix[o+2] = in.Pix[i+2]
		img.Pix[o+3] = 0xff
	}

	return img, nil
}

// Encoding names the byte layout inside an OutputBuffer.
type Encoding string

const (
	EncodingWebP Encoding = "webp"
	EncodingRGBA Encoding = "rgba"
)

var outputPool = sync.Pool{
	New: func() interface{} {
		return []byte(nil)
	},
}

func acquireOutput(n int) []byte {
	buf := outputPool.Get().([]byte)
	if cap(buf) < n {
		return make([]byte, n)
	}

	return buf[:n]
}

// OutputBuffer is the owning handle for one rendered tier. The caller must
// Release it once done; Release is idempotent and returns the backing
// storage to the pool.
type OutputBuffer struct {
	data     []byte
	width    int
	height   int
	tier     Tier
	encoding Encoding

	release sync.Once
}

func newOutputBuffer(data []byte, width, height int, tier Tier, encoding Encoding) *OutputBuffer {
	buf := acquireOutput(len(data))
	copy(buf, data)

	return &OutputBuffer{
		data:     buf,
		width:    width,
		height:   height,
		tier:     tier,
		encoding: encoding,
	}
}

// Bytes returns the encoded output. The slice is only valid until Release.
func (b *OutputBuffer) Bytes() []byte {
	return b.data
}

func (b *OutputBuffer) Len() int {
	return len(b.data)
}

func (b *OutputBuffer) Width() int {
	return b.width
}

func (b *OutputBuffer) Height() int {
	return b.height
}

func (b *OutputBuffer) Tier() Tier {
	return b.tier
}

func (b *OutputBuffer) Encoding() Encoding {
	return b.encoding
}

// Release returns the backing storage to the pool. Calling it more than
// once is a no-op.
func (b *OutputBuffer) Release() {
	b.release.Do(func() {
		outputPool.Put(b.data[:0]) //nolint:staticcheck // slices are pooled by capacity
		b.data = nil
	})
}
