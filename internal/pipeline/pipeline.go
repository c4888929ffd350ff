// Package pipeline turns one input image into its preview derivatives. It
// owns the tier policy table and drives the kernel dispatcher; callers hand
// it either compressed bytes or raw pixels and get back owning output
// buffers, one per requested tier.
package pipeline

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/thumbforge/preview-processor/container"
	"github.com/thumbforge/preview-processor/internal/device"
	"github.com/thumbforge/preview-processor/internal/kernel"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// EncodeMode selects the output byte layout for a rendered tier.
type EncodeMode uint8

const (
	// EncodeWebP compresses each tier to lossy WebP at the tier's quality.
	EncodeWebP EncodeMode = iota

	// EncodeRaw skips compression and returns interleaved RGBA pixels, for
	// callers that post-process tiers themselves.
	EncodeRaw
)

type Pipeline struct {
	dev        *device.Context
	dispatcher *kernel.Dispatcher
	policies   PolicySet
}

// New validates the policy table and builds the kernel pipelines. The
// device context must already be initialized.
func New(dev *device.Context, policies PolicySet) (*Pipeline, error) {
	if err := policies.Validate(); err != nil {
		return nil, err
	}

	dispatcher := kernel.NewDispatcher(dev)
	if err := dispatcher.Init(); err != nil {
		return nil, err
	}

	return &Pipeline{
		dev:        dev,
		dispatcher: dispatcher,
		policies:   policies,
	}, nil
}

func (p *Pipeline) Close() {
	p.dispatcher.Close()
}

func (p *Pipeline) Policies() PolicySet {
	return p.policies
}

// FromBytes decodes a compressed image and renders one tier. The input
// slice is not retained.
func (p *Pipeline) FromBytes(data []byte, tier Tier, mode EncodeMode) (*OutputBuffer, error) {
	img, err := p.decode(data)
	if err != nil {
		return nil, err
	}

	return p.render(img, tier, mode)
}

// Decode sniffs and decodes compressed bytes into raw pixels, so callers
// rendering several tiers pay the decode cost once.
func (p *Pipeline) Decode(data []byte) (PixelInput, error) {
	img, err := p.decode(data)
	if err != nil {
		return PixelInput{}, err
	}

	return PixelInput{
		Pix:    img.Pix,
		Width:  img.Width,
		Height: img.Height,
		Format: FormatRGBA,
	}, nil
}

// FromPixels renders one tier from raw decoded pixels, skipping the sniff
// and decode steps.
func (p *Pipeline) FromPixels(in PixelInput, tier Tier, mode EncodeMode) (*OutputBuffer, error) {
	img, err := in.toImage()
	if err != nil {
		return nil, err
	}

	return p.render(img, tier, mode)
}

// Thumbnail renders the smallest tier as WebP.
func (p *Pipeline) Thumbnail(data []byte) (*OutputBuffer, error) {
	return p.FromBytes(data, TierThumbnail, EncodeWebP)
}

// BlurPreview renders the blurred placeholder tier as WebP.
func (p *Pipeline) BlurPreview(data []byte) (*OutputBuffer, error) {
	return p.FromBytes(data, TierBlur, EncodeWebP)
}

// LowQuality renders the largest derivative tier as WebP.
func (p *Pipeline) LowQuality(data []byte) (*OutputBuffer, error) {
	return p.FromBytes(data, TierLowQuality, EncodeWebP)
}

func (p *Pipeline) decode(data []byte) (*kernel.Image, error) {
	if !container.IsSupported(container.Match(data)) {
		return nil, ErrUnsupportedFormat
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	// Normalize every decoded format to interleaved straight-alpha RGBA.
	nrgba := imaging.Clone(decoded)
	bounds := nrgba.Bounds()

	img := &kernel.Image{
		Pix:    nrgba.Pix,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	if img.Width <= 0 || img.Height <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("decoded to empty image")}
	}

	return img, nil
}

func (p *Pipeline) render(img *kernel.Image, tier Tier, mode EncodeMode) (*OutputBuffer, error) {
	policy, ok := p.policies[tier]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown tier %q", tier)
	}

	resampled, err := p.dispatcher.Resample(img, policy.MaxDimension)
	if err != nil {
		return nil, &DeviceError{Tier: tier, Err: err}
	}

	out := resampled
	if policy.BlurRadius > 0 {
		out, err = p.dispatcher.Blur(resampled, policy.BlurRadius)
		if err != nil {
			return nil, &DeviceError{Tier: tier, Err: err}
		}
	}

	if mode == EncodeRaw {
		return newOutputBuffer(out.Pix, out.Width, out.Height, tier, EncodingRGBA), nil
	}

	encoded, err := encodeWebP(out, policy.Quality)
	if err != nil {
		return nil, fmt.Errorf("pipeline: tier %s encode failed: %w", tier, err)
	}

	return newOutputBuffer(encoded, out.Width, out.Height, tier, EncodingWebP), nil
}

func encodeWebP(img *kernel.Image, quality int) ([]byte, error) {
	nrgba := &image.NRGBA{
		Pix:    img.Pix,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}

	buf := bytes.Buffer{}
	if err := webp.Encode(&buf, nrgba, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
