// Package imageutil holds pixel-level conversion helpers used by the input
// transformers: raw byte layouts to images, NV12 chroma upsampling, and
// the per-pixel normalization steps chained in front of the net input.
package imageutil

import (
	"fmt"
	"image"
)

// RGB24ToImage copies interleaved RGB bytes into an image. The buffer must
// hold at least width*height*3 bytes.
func RGB24ToImage(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := (y*width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst] = buf[src]
			img.Pix[dst+1] = buf[src+1]
			img.Pix[dst+2] = buf[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
	return img
}

// RGBAToImage wraps interleaved RGBA bytes as an image without copying.
func RGBAToImage(buf []byte, width, height int) *image.RGBA {
	return &image.RGBA{
		Pix:    buf[:width*height*4],
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
}

// NV12ToRGBA converts one NV12 frame (full-resolution Y plane followed by
// interleaved half-resolution UV plane) into interleaved RGBA using BT.601
// coefficients. dst must hold width*height*4 bytes; width and height must
// be even.
func NV12ToRGBA(src, dst []byte, width, height int) error {
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("nv12 dimensions must be even, got %dx%d", width, height)
	}
	if len(src) < width*height*3/2 {
		return fmt.Errorf("nv12 source holds %d bytes, %dx%d needs %d", len(src), width, height, width*height*3/2)
	}
	if len(dst) < width*height*4 {
		return fmt.Errorf("rgba destination holds %d bytes, %dx%d needs %d", len(dst), width, height, width*height*4)
	}
	yPlane := src[:width*height]
	uvPlane := src[width*height:]
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			lum := int32(yPlane[y*width+x])
			uvIdx := (y/2)*width + (x/2)*2
			u := int32(uvPlane[uvIdx]) - 128
			v := int32(uvPlane[uvIdx+1]) - 128

			r := lum + (91881*v >> 16)
			g := lum - (22554*u >> 16) - (46802*v >> 16)
			b := lum + (116130*u >> 16)

			out := (y*width + x) * 4
			dst[out] = clampByte(r)
			dst[out+1] = clampByte(g)
			dst[out+2] = clampByte(b)
			dst[out+3] = 0xff
		}
	}
	return nil
}

func clampByte(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// ResizeNearest resizes an image with nearest-neighbour sampling, the same
// policy the transformers use on raw frames.
func ResizeNearest(img image.Image, newW, newH int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	srcBounds := img.Bounds()
	for y := 0; y < newH; y++ {
		srcY := srcBounds.Min.Y + y*srcBounds.Dy()/newH
		for x := 0; x < newW; x++ {
			srcX := srcBounds.Min.X + x*srcBounds.Dx()/newW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// ImageToRGB24 flattens an image into interleaved RGB bytes.
func ImageToRGB24(img image.Image) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return out
}

// NormalizationStep transforms one pixel's channel values on the way into
// the net input tensor.
type NormalizationStep interface {
	Apply(r, g, b float32) (float32, float32, float32)
}

type RescalePreprocessor struct{}

func (s *RescalePreprocessor) Apply(r, g, b float32) (float32, float32, float32) {
	scale := float32(1.0 / 255.0)
	return r * scale, g * scale, b * scale
}

func RescaleStep() *RescalePreprocessor {
	return &RescalePreprocessor{}
}

type PixelNormalizationPreprocessor struct {
	mean [3]float32
	std  [3]float32
}

func (s *PixelNormalizationPreprocessor) Apply(r, g, b float32) (float32, float32, float32) {
	r = (r - s.mean[0]) / s.std[0]
	g = (g - s.mean[1]) / s.std[1]
	b = (b - s.mean[2]) / s.std[2]
	return r, g, b
}

func PixelNormalizationStep(mean, std [3]float32) *PixelNormalizationPreprocessor {
	return &PixelNormalizationPreprocessor{mean: mean, std: std}
}

func ImagenetPixelNormalizationStep() *PixelNormalizationPreprocessor {
	return &PixelNormalizationPreprocessor{
		mean: [3]float32{0.485, 0.456, 0.406},
		std:  [3]float32{0.229, 0.224, 0.225},
	}
}

// MeanSubtractPreprocessor subtracts a per-channel mean without scaling,
// the classic Caffe-style preprocessing.
type MeanSubtractPreprocessor struct {
	mean [3]float32
}

func (s *MeanSubtractPreprocessor) Apply(r, g, b float32) (float32, float32, float32) {
	return r - s.mean[0], g - s.mean[1], b - s.mean[2]
}

func MeanSubtractStep(mean [3]float32) *MeanSubtractPreprocessor {
	return &MeanSubtractPreprocessor{mean: mean}
}
