// Package testutil holds the small assertion helpers and synthetic image
// builders shared by the package tests. Test inputs are generated, not
// checked in, so the suite carries no binary assets.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"testing"
)

func IsNil(t *testing.T, v interface{}, msg string) {
	t.Helper()

	if v != nil {
		t.Fatalf("%s: expected nil got %v", msg, v)
	}
}

func Assert(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()

	if expected != actual {
		t.Fatalf("%s: expected %v got %v", msg, expected, actual)
	}
}

func ReadFile(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	return data
}

// GradientImage returns an RGBA image with enough spatial detail that
// downscales and blurs measurably change the encoded size.
func GradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x ^ y) & 0xff),
				A: 255,
			})
		}
	}

	return img
}

// UniformImage returns a solid-color RGBA image.
func UniformImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	return img
}

func EncodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()

	buf := bytes.Buffer{}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	buf := bytes.Buffer{}
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}
