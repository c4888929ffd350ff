package kernel

import "math"

// The CPU kernels mirror the WGSL shaders tap for tap. They are the only
// execution path in software mode and double as the oracle the GPU path is
// compared against.

func resampleCPU(src *Image, dstW, dstH int) *Image {
	out := NewImage(dstW, dstH)

	scaleX := float64(src.Width) / float64(dstW)
	scaleY := float64(src.Height) / float64(dstH)

	for y := 0; y < dstH; y++ {
		sy := math.Max((float64(y)+0.5)*scaleY-0.5, 0)
		y0 := int(sy)
		fy := sy - float64(y0)
		y1 := clampInt(y0+1, 0, src.Height-1)

		for x := 0; x < dstW; x++ {
			sx := math.Max((float64(x)+0.5)*scaleX-0.5, 0)
			x0 := int(sx)
			fx := sx - float64(x0)
			x1 := clampInt(x0+1, 0, src.Width-1)

			p00 := (y0*src.Width + x0) * 4
			p10 := (y0*src.Width + x1) * 4
			p01 := (y1*src.Width + x0) * 4
			p11 := (y1*src.Width + x1) * 4
			dst := (y*dstW + x) * 4

			for c := 0; c < 4; c++ {
				top := float64(src.Pix[p00+c])*(1-fx) + float64(src.Pix[p10+c])*fx
				bottom := float64(src.Pix[p01+c])*(1-fx) + float64(src.Pix[p11+c])*fx
				out.Pix[dst+c] = clampByte(top*(1-fy) + bottom*fy)
			}
		}
	}

	return out
}

// blurCPU runs the separable Gaussian as two passes over the full image,
// clamping taps to the edge exactly like the shader does.
func blurCPU(src *Image, radius int) *Image {
	weights := gaussianWeights(radius)

	tmp := NewImage(src.Width, src.Height)
	blurPass(src, tmp, weights, radius, true)

	out := NewImage(src.Width, src.Height)
	blurPass(tmp, out, weights, radius, false)

	return out
}

func blurPass(src, dst *Image, weights []float64, radius int, horizontal bool) {
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var sum [4]float64

			for i := -radius; i <= radius; i++ {
				sx, sy := x, y
				if horizontal {
					sx = clampInt(x+i, 0, src.Width-1)
				} else {
					sy = clampInt(y+i, 0, src.Height-1)
				}

				w := weights[i+radius]
				p := (sy*src.Width + sx) * 4
				for c := 0; c < 4; c++ {
					sum[c] += float64(src.Pix[p+c]) * w
				}
			}

			d := (y*src.Width + x) * 4
			for c := 0; c < 4; c++ {
				dst.Pix[d+c] = clampByte(sum[c])
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}

func clampByte(v float64) byte {
	v += 0.5
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}

	return byte(v)
}
