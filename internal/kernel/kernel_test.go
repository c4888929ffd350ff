package kernel

import (
	"errors"
	"math"
	"testing"

	"github.com/thumbforge/preview-processor/internal/device"
	"github.com/thumbforge/preview-processor/internal/testutil"
)

func softwareDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	dev := device.New(device.Options{Software: true})
	testutil.IsNil(t, dev.Init(), "device init successful")
	t.Cleanup(dev.Teardown)

	d := NewDispatcher(dev)
	testutil.IsNil(t, d.Init(), "dispatcher init successful")
	t.Cleanup(d.Close)

	return d
}

func uniformImage(w, h int, r, g, b, a byte) *Image {
	img := NewImage(w, h)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = a
	}

	return img
}

func checkerImage(w, h int) *Image {
	img := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			p := (y*w + x) * 4
			img.Pix[p] = v
			img.Pix[p+1] = v
			img.Pix[p+2] = v
			img.Pix[p+3] = 255
		}
	}

	return img
}

func TestFitDimensions(t *testing.T) {
	cases := []struct {
		srcW, srcH, max int
		wantW, wantH    int
	}{
		{1920, 1080, 128, 128, 72},
		{1080, 1920, 128, 72, 128},
		{1920, 1080, 320, 320, 180},
		{1920, 1080, 640, 640, 360},
		{100, 100, 128, 100, 100},
		{128, 128, 128, 128, 128},
		{5000, 10, 128, 128, 1},
		{640, 640, 64, 64, 64},
	}

	for _, c := range cases {
		w, h := FitDimensions(c.srcW, c.srcH, c.max)
		testutil.Assert(t, c.wantW, w, "width")
		testutil.Assert(t, c.wantH, h, "height")
	}
}

func TestResamplePassThrough(t *testing.T) {
	d := softwareDispatcher(t)

	src := checkerImage(64, 32)
	out, err := d.Resample(src, 128)
	testutil.IsNil(t, err, "resample successful")

	testutil.Assert(t, src.Width, out.Width, "width unchanged")
	testutil.Assert(t, src.Height, out.Height, "height unchanged")

	for i := range src.Pix {
		if src.Pix[i] != out.Pix[i] {
			t.Fatalf("pixel %d changed on pass-through", i)
		}
	}

	// Output is a copy, not an alias.
	out.Pix[0] ^= 0xff
	if src.Pix[0] == out.Pix[0] {
		t.Fatal("output aliases the input buffer")
	}
}

func TestResampleDimensions(t *testing.T) {
	d := softwareDispatcher(t)

	src := uniformImage(1920, 1080, 10, 20, 30, 255)
	out, err := d.Resample(src, 128)
	testutil.IsNil(t, err, "resample successful")

	testutil.Assert(t, 128, out.Width, "longer edge hits the bound")
	testutil.Assert(t, 72, out.Height, "aspect ratio preserved")
}

func TestResampleUniformStaysUniform(t *testing.T) {
	d := softwareDispatcher(t)

	src := uniformImage(200, 100, 40, 80, 120, 255)
	out, err := d.Resample(src, 50)
	testutil.IsNil(t, err, "resample successful")

	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] != 40 || out.Pix[i+1] != 80 || out.Pix[i+2] != 120 || out.Pix[i+3] != 255 {
			t.Fatalf("pixel %d drifted on a solid image", i/4)
		}
	}
}

func TestBlurZeroRadiusCopies(t *testing.T) {
	d := softwareDispatcher(t)

	src := checkerImage(16, 16)
	out, err := d.Blur(src, 0)
	testutil.IsNil(t, err, "blur successful")

	for i := range src.Pix {
		if src.Pix[i] != out.Pix[i] {
			t.Fatalf("pixel %d changed with radius 0", i)
		}
	}
}

func TestBlurUniformStaysUniform(t *testing.T) {
	d := softwareDispatcher(t)

	src := uniformImage(33, 17, 200, 100, 50, 255)
	out, err := d.Blur(src, 5)
	testutil.IsNil(t, err, "blur successful")

	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] != 200 || out.Pix[i+1] != 100 || out.Pix[i+2] != 50 || out.Pix[i+3] != 255 {
			t.Fatalf("pixel %d drifted on a solid image", i/4)
		}
	}
}

func TestBlurSmooths(t *testing.T) {
	d := softwareDispatcher(t)

	src := checkerImage(32, 32)
	out, err := d.Blur(src, 3)
	testutil.IsNil(t, err, "blur successful")

	// Interior pixels of a checkerboard must land strictly between the
	// extremes once smoothed.
	p := (16*32 + 16) * 4
	if out.Pix[p] == 0 || out.Pix[p] == 255 {
		t.Fatalf("interior pixel untouched by blur: %d", out.Pix[p])
	}
}

func TestBlurEdgeClamping(t *testing.T) {
	d := softwareDispatcher(t)

	// A radius larger than the image forces every tap through the clamp.
	src := uniformImage(3, 1, 77, 77, 77, 255)
	out, err := d.Blur(src, 8)
	testutil.IsNil(t, err, "blur successful")

	for i := 0; i < len(out.Pix); i += 4 {
		testutil.Assert(t, byte(77), out.Pix[i], "clamped taps keep solid regions solid")
	}
}

func TestBlurNegativeRadius(t *testing.T) {
	d := softwareDispatcher(t)

	if _, err := d.Blur(uniformImage(4, 4, 0, 0, 0, 255), -1); err == nil {
		t.Fatal("expected an error for a negative radius")
	}
}

func TestKernelsRequireInitializedDevice(t *testing.T) {
	dev := device.New(device.Options{Software: true})
	d := NewDispatcher(dev)

	_, err := d.Resample(uniformImage(4, 4, 0, 0, 0, 255), 2)
	if !errors.Is(err, device.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	_, err = d.Blur(uniformImage(4, 4, 0, 0, 0, 255), 2)
	if !errors.Is(err, device.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestInvalidImages(t *testing.T) {
	d := softwareDispatcher(t)

	if _, err := d.Resample(&Image{Pix: make([]byte, 8), Width: 4, Height: 4}, 2); err == nil {
		t.Fatal("expected an error for a short pixel buffer")
	}

	if _, err := d.Blur(&Image{Pix: nil, Width: 0, Height: 0}, 1); err == nil {
		t.Fatal("expected an error for empty dimensions")
	}
}

func TestGaussianWeightsNormalized(t *testing.T) {
	for _, radius := range []int{1, 2, 5, 16} {
		weights := gaussianWeights(radius)
		testutil.Assert(t, 2*radius+1, len(weights), "tap count")

		sum := 0.0
		for _, w := range weights {
			sum += w
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("weights for radius %d sum to %v", radius, sum)
		}

		// Symmetric and peaked at the center.
		for i := 0; i < radius; i++ {
			if math.Abs(weights[i]-weights[2*radius-i]) > 1e-12 {
				t.Fatalf("weights for radius %d not symmetric", radius)
			}
		}
		if weights[radius] <= weights[0] {
			t.Fatalf("weights for radius %d not peaked at center", radius)
		}
	}
}
