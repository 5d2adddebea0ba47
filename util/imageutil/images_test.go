package imageutil

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRGB24ToImage(t *testing.T) {
	buf := []byte{255, 0, 0, 0, 0, 255}
	img := RGB24ToImage(buf, 2, 1)

	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.At(0, 0))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, img.At(1, 0))
}

func TestRGBAToImageZeroCopy(t *testing.T) {
	buf := []byte{1, 2, 3, 255, 4, 5, 6, 255}
	img := RGBAToImage(buf, 2, 1)

	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, img.At(0, 0))

	// the image wraps the buffer, it does not copy it
	buf[0] = 99
	assert.Equal(t, color.RGBA{R: 99, G: 2, B: 3, A: 255}, img.At(0, 0))
}

func TestNV12ToRGBAGray(t *testing.T) {
	// neutral chroma decodes every pixel to gray at its luma value
	src := []byte{
		100, 100, 100, 100, // Y plane 2x2
		128, 128, // one interleaved UV pair
	}
	dst := make([]byte, 2*2*4)
	if err := NV12ToRGBA(src, dst, 2, 2); err != nil {
		t.Fatal(err)
	}
	for p := 0; p < 4; p++ {
		assert.Equal(t, byte(100), dst[p*4])
		assert.Equal(t, byte(100), dst[p*4+1])
		assert.Equal(t, byte(100), dst[p*4+2])
		assert.Equal(t, byte(0xff), dst[p*4+3])
	}
}

func TestNV12ToRGBAChroma(t *testing.T) {
	// max V pushes red up and green down at BT.601 coefficients
	src := []byte{
		128, 128, 128, 128,
		128, 255,
	}
	dst := make([]byte, 2*2*4)
	if err := NV12ToRGBA(src, dst, 2, 2); err != nil {
		t.Fatal(err)
	}
	r, g, b := dst[0], dst[1], dst[2]
	assert.Greater(t, r, byte(200))
	assert.Less(t, g, byte(100))
	assert.Equal(t, byte(128), b)
}

func TestNV12ToRGBAValidation(t *testing.T) {
	dst := make([]byte, 2*2*4)
	assert.Error(t, NV12ToRGBA(make([]byte, 100), dst, 3, 3))
	assert.Error(t, NV12ToRGBA(make([]byte, 2), dst, 2, 2))
	assert.Error(t, NV12ToRGBA(make([]byte, 6), make([]byte, 4), 2, 2))
}

func TestResizeNearest(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: byte(y*4 + x), A: 255})
		}
	}
	dst := ResizeNearest(src, 2, 2)

	assert.Equal(t, image.Rect(0, 0, 2, 2), dst.Bounds())
	r, _, _, _ := dst.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r>>8)
	r, _, _, _ = dst.At(1, 1).RGBA()
	assert.Equal(t, uint32(10), r>>8)
}

func TestImageToRGB24RoundTrip(t *testing.T) {
	buf := []byte{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120}
	img := RGB24ToImage(buf, 2, 2)
	assert.Equal(t, buf, ImageToRGB24(img))
}

func TestRescaleStep(t *testing.T) {
	r, g, b := RescaleStep().Apply(255, 0, 51)
	assert.InDelta(t, 1.0, r, 1e-6)
	assert.InDelta(t, 0.0, g, 1e-6)
	assert.InDelta(t, 0.2, b, 1e-6)
}

func TestPixelNormalizationStep(t *testing.T) {
	step := PixelNormalizationStep([3]float32{0.5, 0.5, 0.5}, [3]float32{0.5, 0.5, 0.5})
	r, g, b := step.Apply(1, 0.5, 0)
	assert.InDelta(t, 1.0, r, 1e-6)
	assert.InDelta(t, 0.0, g, 1e-6)
	assert.InDelta(t, -1.0, b, 1e-6)
}

func TestImagenetPixelNormalizationStep(t *testing.T) {
	r, g, b := ImagenetPixelNormalizationStep().Apply(0.485, 0.456, 0.406)
	assert.InDelta(t, 0, r, 1e-6)
	assert.InDelta(t, 0, g, 1e-6)
	assert.InDelta(t, 0, b, 1e-6)
}

func TestMeanSubtractStep(t *testing.T) {
	step := MeanSubtractStep([3]float32{104, 117, 123})
	r, g, b := step.Apply(104, 217, 23)
	assert.InDelta(t, 0, r, 1e-6)
	assert.InDelta(t, 100, g, 1e-6)
	assert.InDelta(t, -100, b, 1e-6)
}
