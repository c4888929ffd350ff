package pipeline

import (
	"errors"
	"testing"

	"github.com/thumbforge/preview-processor/internal/device"
	"github.com/thumbforge/preview-processor/internal/testutil"
)

func softwarePipeline(t *testing.T) *Pipeline {
	t.Helper()

	dev := device.New(device.Options{Software: true})
	testutil.IsNil(t, dev.Init(), "device init successful")
	t.Cleanup(dev.Teardown)

	p, err := New(dev, DefaultPolicies())
	testutil.IsNil(t, err, "pipeline init successful")
	t.Cleanup(p.Close)

	return p
}

func TestPolicyValidation(t *testing.T) {
	testutil.IsNil(t, DefaultPolicies().Validate(), "defaults are valid")

	broken := DefaultPolicies()
	broken[TierThumbnail] = TierPolicy{MaxDimension: 640, BlurRadius: 0, Quality: 30}
	if broken.Validate() == nil {
		t.Fatal("expected thumbnail >= blur dimension to fail validation")
	}

	broken = DefaultPolicies()
	broken[TierBlur] = TierPolicy{MaxDimension: 320, BlurRadius: -1, Quality: 50}
	if broken.Validate() == nil {
		t.Fatal("expected negative blur radius to fail validation")
	}

	broken = DefaultPolicies()
	broken[TierLowQuality] = TierPolicy{MaxDimension: 640, BlurRadius: 0, Quality: 0}
	if broken.Validate() == nil {
		t.Fatal("expected quality 0 to fail validation")
	}

	broken = DefaultPolicies()
	broken[TierThumbnail] = TierPolicy{MaxDimension: 128, BlurRadius: 2, Quality: 30}
	if broken.Validate() == nil {
		t.Fatal("expected a blurred thumbnail tier to fail validation")
	}

	broken = DefaultPolicies()
	broken[TierLowQuality] = TierPolicy{MaxDimension: 640, BlurRadius: 0, Quality: 40}
	if broken.Validate() == nil {
		t.Fatal("expected non-increasing quality to fail validation")
	}

	delete(broken, TierThumbnail)
	if broken.Validate() == nil {
		t.Fatal("expected a missing tier to fail validation")
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range Tiers {
		parsed, err := ParseTier(string(tier))
		testutil.IsNil(t, err, "known tier parses")
		testutil.Assert(t, tier, parsed, "round trip")
	}

	if _, err := ParseTier("original"); err == nil {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestTierSizeOrdering(t *testing.T) {
	p := softwarePipeline(t)

	input := testutil.EncodeJPEG(t, testutil.GradientImage(800, 600))

	thumb, err := p.Thumbnail(input)
	testutil.IsNil(t, err, "thumbnail renders")
	defer thumb.Release()

	blur, err := p.BlurPreview(input)
	testutil.IsNil(t, err, "blur preview renders")
	defer blur.Release()

	low, err := p.LowQuality(input)
	testutil.IsNil(t, err, "low quality renders")
	defer low.Release()

	if !(thumb.Len() < blur.Len() && blur.Len() < low.Len() && low.Len() < len(input)) {
		t.Fatalf("tier sizes out of order: thumb=%d blur=%d low=%d input=%d",
			thumb.Len(), blur.Len(), low.Len(), len(input))
	}

	testutil.Assert(t, 128, thumb.Width(), "thumbnail bound")
	testutil.Assert(t, 96, thumb.Height(), "thumbnail aspect")
	testutil.Assert(t, 320, blur.Width(), "blur bound")
	testutil.Assert(t, 640, low.Width(), "low quality bound")

	testutil.Assert(t, EncodingWebP, thumb.Encoding(), "webp output")
}

func TestSmallInputIsNotUpscaled(t *testing.T) {
	p := softwarePipeline(t)

	input := testutil.EncodeJPEG(t, testutil.GradientImage(100, 80))

	low, err := p.LowQuality(input)
	testutil.IsNil(t, err, "low quality renders")
	defer low.Release()

	testutil.Assert(t, 100, low.Width(), "width untouched below the bound")
	testutil.Assert(t, 80, low.Height(), "height untouched below the bound")
}

func TestFromBytesRejectsUnknownContainers(t *testing.T) {
	p := softwarePipeline(t)

	_, err := p.Thumbnail([]byte("definitely not an image"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFromBytesSurfacesDecodeErrors(t *testing.T) {
	p := softwarePipeline(t)

	// Valid PNG magic followed by garbage sniffs as PNG but fails to decode.
	data := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, []byte("truncated")...)

	_, err := p.Thumbnail(data)

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestFromPixels(t *testing.T) {
	p := softwarePipeline(t)

	w, h := 300, 200
	rgb := make([]byte, w*h*3)
	for i := range rgb {
		rgb[i] = byte(i)
	}

	out, err := p.FromPixels(PixelInput{Pix: rgb, Width: w, Height: h, Format: FormatRGB}, TierThumbnail, EncodeWebP)
	testutil.IsNil(t, err, "raw input renders")
	defer out.Release()

	testutil.Assert(t, 128, out.Width(), "thumbnail bound")

	if _, err := p.FromPixels(PixelInput{Pix: rgb[:10], Width: w, Height: h, Format: FormatRGB}, TierThumbnail, EncodeWebP); err == nil {
		t.Fatal("expected a short pixel buffer to fail")
	}
}

func TestRawOutputMode(t *testing.T) {
	p := softwarePipeline(t)

	input := testutil.EncodePNG(t, testutil.GradientImage(256, 256))

	out, err := p.FromBytes(input, TierThumbnail, EncodeRaw)
	testutil.IsNil(t, err, "raw output renders")
	defer out.Release()

	testutil.Assert(t, EncodingRGBA, out.Encoding(), "raw encoding")
	testutil.Assert(t, out.Width()*out.Height()*4, out.Len(), "raw output is exactly w*h*4 bytes")
}

func TestOutputBufferRelease(t *testing.T) {
	p := softwarePipeline(t)

	out, err := p.Thumbnail(testutil.EncodePNG(t, testutil.GradientImage(64, 64)))
	testutil.IsNil(t, err, "thumbnail renders")

	out.Release()
	out.Release() // idempotent

	if out.Bytes() != nil {
		t.Fatal("expected released buffer to drop its storage")
	}
}

func TestPipelineRequiresInitializedDevice(t *testing.T) {
	dev := device.New(device.Options{Software: true})

	if _, err := New(dev, DefaultPolicies()); !errors.Is(err, device.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestUnknownTier(t *testing.T) {
	p := softwarePipeline(t)

	if _, err := p.FromBytes(testutil.EncodePNG(t, testutil.GradientImage(32, 32)), Tier("original"), EncodeWebP); err == nil {
		t.Fatal("expected an unknown tier to fail")
	}
}
