// Package kernel implements the image compute kernels behind the preview
// tiers: a bilinear resampler and a separable Gaussian blur. Both kernels
// exist twice, as WGSL compute shaders dispatched through wgpu/hal and as
// CPU reference implementations used in software mode. The two paths share
// the same sampling math so their outputs agree to rounding error.
package kernel

import (
	_ "embed"
	"fmt"
	"math"
)

//go:embed shaders/resample.wgsl
var resampleShaderSource string

//go:embed shaders/blur.wgsl
var blurShaderSource string

// Image is an interleaved 8-bit RGBA pixel buffer with no row padding.
// The byte layout matches the packed u32 layout the shaders operate on,
// so uploads and readbacks need no conversion pass.
type Image struct {
	Pix    []byte
	Width  int
	Height int
}

func NewImage(width, height int) *Image {
	return &Image{
		Pix:    make([]byte, width*height*4),
		Width:  width,
		Height: height,
	}
}

func (i *Image) Clone() *Image {
	out := NewImage(i.Width, i.Height)
	copy(out.Pix, i.Pix)

	return out
}

func (i *Image) validate() error {
	if i == nil {
		return fmt.Errorf("kernel: nil image")
	}

	if i.Width <= 0 || i.Height <= 0 {
		return fmt.Errorf("kernel: invalid dimensions %dx%d", i.Width, i.Height)
	}

	if len(i.Pix) != i.Width*i.Height*4 {
		return fmt.Errorf("kernel: pixel buffer is %d bytes, want %d", len(i.Pix), i.Width*i.Height*4)
	}

	return nil
}

// FitDimensions scales (srcW, srcH) so the longer edge equals targetMax,
// preserving aspect ratio. Images already within the bound keep their
// dimensions, this never upscales. Either output edge is floored at 1px.
func FitDimensions(srcW, srcH, targetMax int) (int, int) {
	longer := srcW
	if srcH > longer {
		longer = srcH
	}

	if targetMax <= 0 || longer <= targetMax {
		return srcW, srcH
	}

	scale := float64(targetMax) / float64(longer)

	dstW := int(float64(srcW)*scale + 0.5)
	dstH := int(float64(srcH)*scale + 0.5)

	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	return dstW, dstH
}

// gaussianWeights returns the normalized 2r+1 tap weights used by both blur
// paths, with sigma = radius/2 (floored at 0.5 so radius 1 still spreads).
func gaussianWeights(radius int) []float64 {
	sigma := float64(radius) * 0.5
	if sigma < 0.5 {
		sigma = 0.5
	}

	denom := 2 * sigma * sigma

	weights := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / denom)
		weights[i+radius] = w
		sum += w
	}

	for i := range weights {
		weights[i] /= sum
	}

	return weights
}
