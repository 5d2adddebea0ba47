package backends

import (
	"fmt"
	"image"

	"github.com/scanforge/frameval/util/imageutil"
)

// InputTransformer converts a batch of raw decoded frames into the net's
// expected input tensor layout. Configure is called once per dataset item,
// TransformInput once per batch. A transformer writes memory in the same
// space as its paired evaluator.
type InputTransformer interface {
	Configure(meta FrameMetadata) error
	// TransformInput reads batchSize raw frames from raw and writes planar
	// float values into netInput in place.
	TransformInput(raw []byte, netInput []float32, batchSize int) error
}

// RGBTransformer is the host-memory reference transformer: it scales each
// frame to the net input dimensions with nearest-neighbour sampling and
// writes planar CHW float32 channels, running every pixel through the
// configured normalization chain.
type RGBTransformer struct {
	netWidth  int
	netHeight int
	meta      FrameMetadata
	steps     []imageutil.NormalizationStep
	scratch   []byte // per-frame RGBA staging for formats that need conversion
}

func NewRGBTransformer(netWidth, netHeight int, steps ...imageutil.NormalizationStep) *RGBTransformer {
	return &RGBTransformer{
		netWidth:  netWidth,
		netHeight: netHeight,
		steps:     steps,
	}
}

func (t *RGBTransformer) Configure(meta FrameMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	t.meta = meta
	if meta.PixelFormat == PixelFormatNV12 {
		t.scratch = make([]byte, meta.Width*meta.Height*4)
	} else {
		t.scratch = nil
	}
	return nil
}

func (t *RGBTransformer) TransformInput(raw []byte, netInput []float32, batchSize int) error {
	if t.meta.Width == 0 {
		return fmt.Errorf("transformer has not been configured")
	}
	frameBytes := t.meta.PixelFormat.FrameBytes(t.meta.Width, t.meta.Height)
	if len(raw) < batchSize*frameBytes {
		return fmt.Errorf("raw buffer holds %d bytes, batch of %d frames needs %d", len(raw), batchSize, batchSize*frameBytes)
	}
	plane := t.netWidth * t.netHeight
	if len(netInput) < batchSize*FrameChannels*plane {
		return fmt.Errorf("net input holds %d values, batch of %d frames needs %d", len(netInput), batchSize, batchSize*FrameChannels*plane)
	}

	for b := 0; b < batchSize; b++ {
		frame := raw[b*frameBytes : (b+1)*frameBytes]
		pixels, stride, err := t.framePixels(frame)
		if err != nil {
			return fmt.Errorf("frame %d: %w", b, err)
		}
		base := b * FrameChannels * plane
		for y := 0; y < t.netHeight; y++ {
			srcY := y * t.meta.Height / t.netHeight
			for x := 0; x < t.netWidth; x++ {
				srcX := x * t.meta.Width / t.netWidth
				idx := (srcY*t.meta.Width + srcX) * stride
				r := float32(pixels[idx])
				g := float32(pixels[idx+1])
				bl := float32(pixels[idx+2])
				for _, step := range t.steps {
					r, g, bl = step.Apply(r, g, bl)
				}
				offset := y*t.netWidth + x
				netInput[base+offset] = r
				netInput[base+plane+offset] = g
				netInput[base+2*plane+offset] = bl
			}
		}
	}
	return nil
}

// framePixels exposes one raw frame as interleaved pixels with at least
// r, g, b at consecutive offsets, converting to RGBA staging when the
// source format is not directly addressable.
func (t *RGBTransformer) framePixels(frame []byte) ([]byte, int, error) {
	switch t.meta.PixelFormat {
	case PixelFormatRGB24:
		return frame, 3, nil
	case PixelFormatRGBA:
		return frame, 4, nil
	case PixelFormatNV12:
		if err := imageutil.NV12ToRGBA(frame, t.scratch, t.meta.Width, t.meta.Height); err != nil {
			return nil, 0, err
		}
		return t.scratch, 4, nil
	default:
		return nil, 0, fmt.Errorf("unsupported pixel format %s", t.meta.PixelFormat)
	}
}

// BytesToImage decodes one raw frame into an image. It is pure: the buffer
// is only read, and the metadata must account for at least one full frame.
func BytesToImage(buf []byte, meta FrameMetadata) (image.Image, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	need := meta.PixelFormat.FrameBytes(meta.Width, meta.Height)
	if len(buf) < need {
		return nil, fmt.Errorf("buffer holds %d bytes, a %dx%d %s frame needs %d", len(buf), meta.Width, meta.Height, meta.PixelFormat, need)
	}
	switch meta.PixelFormat {
	case PixelFormatRGB24:
		return imageutil.RGB24ToImage(buf, meta.Width, meta.Height), nil
	case PixelFormatRGBA:
		return imageutil.RGBAToImage(buf, meta.Width, meta.Height), nil
	case PixelFormatNV12:
		rgba := make([]byte, meta.Width*meta.Height*4)
		if err := imageutil.NV12ToRGBA(buf, rgba, meta.Width, meta.Height); err != nil {
			return nil, err
		}
		return imageutil.RGBAToImage(rgba, meta.Width, meta.Height), nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", meta.PixelFormat)
	}
}
