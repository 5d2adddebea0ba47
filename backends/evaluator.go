package backends

import (
	"fmt"
)

// DeviceType identifies the memory space a buffer lives in. Upstream and
// downstream pipeline stages must allocate and copy according to the device
// declared by the constructor that owns the buffer.
type DeviceType int

const (
	DeviceCPU DeviceType = iota
	DeviceCUDA
)

func (d DeviceType) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// FrameChannels is the channel count of raw frames entering an evaluator.
// Frames are interleaved 3-channel bytes once decoded, whatever the source
// pixel format was.
const FrameChannels = 3

// PixelFormat describes the byte layout of a raw decoded frame.
type PixelFormat int

const (
	PixelFormatRGB24 PixelFormat = iota
	PixelFormatRGBA
	PixelFormatNV12
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatNV12:
		return "nv12"
	default:
		return fmt.Sprintf("pixelformat(%d)", int(f))
	}
}

// FrameBytes returns the byte size of one frame of this format at the given
// dimensions.
func (f PixelFormat) FrameBytes(width, height int) int {
	switch f {
	case PixelFormatRGB24:
		return width * height * 3
	case PixelFormatRGBA:
		return width * height * 4
	case PixelFormatNV12:
		return width * height * 3 / 2
	default:
		return 0
	}
}

// EvaluatorConfig drives buffer sizing for every evaluator spawned by a
// constructor. It is immutable after construction and shared by pointer
// across all evaluators of one constructor.
type EvaluatorConfig struct {
	MaxBatchSize   int
	MaxFrameWidth  int
	MaxFrameHeight int
}

func (c *EvaluatorConfig) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxFrameWidth <= 0 || c.MaxFrameHeight <= 0 {
		return fmt.Errorf("max frame dimensions must be positive, got %dx%d", c.MaxFrameWidth, c.MaxFrameHeight)
	}
	return nil
}

// InputBufferBytes is the size of a full-batch input buffer: every batch of
// raw frames the constructor's evaluators will ever request fits in it.
func (c *EvaluatorConfig) InputBufferBytes() int {
	return c.MaxBatchSize * c.MaxFrameWidth * c.MaxFrameHeight * FrameChannels
}

// FrameMetadata describes the decoded frames of one dataset item (one video,
// one image sequence). A new item with different dimensions requires a
// Configure call on the evaluator before the next Evaluate.
type FrameMetadata struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
}

func (m *FrameMetadata) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("frame dimensions must be positive, got %dx%d", m.Width, m.Height)
	}
	if m.PixelFormat.FrameBytes(m.Width, m.Height) == 0 {
		return fmt.Errorf("unsupported pixel format %s", m.PixelFormat)
	}
	return nil
}

// Buffer is an owned byte region allocated and freed exclusively by the
// constructor that created it. Data is nil once the buffer has been released.
type Buffer struct {
	Data   []byte
	Device DeviceType
}

func newBuffer(size int, device DeviceType) *Buffer {
	return &Buffer{Data: make([]byte, size), Device: device}
}

// releaseBuffer invalidates a buffer. Releasing twice is a caller error and
// is reported rather than ignored.
func releaseBuffer(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("cannot release nil buffer")
	}
	if b.Data == nil {
		return fmt.Errorf("buffer already released")
	}
	b.Data = nil
	return nil
}

// Evaluator runs one model's forward pass over batches of pre-processed
// frames. A single instance is not internally concurrent: Configure and
// Evaluate must be called sequentially from one worker. Parallelism comes
// from running one evaluator per device.
type Evaluator interface {
	// Configure records the metadata of the upcoming dataset item and
	// prepares the model input for full batches. It must be called at least
	// once before Evaluate and is idempotent when the metadata is unchanged.
	Configure(meta FrameMetadata) error
	// Evaluate transforms batchSize raw frames from input, runs the forward
	// pass and extracts one output buffer per model output layer. After it
	// returns, outputs[i].Data[:batchSize*OutputSizes()[i]] holds valid
	// results; bytes beyond that are unspecified.
	Evaluate(input *Buffer, outputs []*Buffer, batchSize int) error
	// OutputSizes returns the per-frame output size in bytes for every
	// output layer, in descriptor order.
	OutputSizes() []int
	Destroy() error
}

// EvaluatorConstructor describes one backend's device capabilities and
// manufactures evaluators and the buffers they operate on. Keeping
// allocation here lets a device-aware pipeline pool buffers per memory
// space without the evaluator knowing pool policy.
type EvaluatorConstructor interface {
	// NumDevices is the number of parallel physical execution units this
	// backend can target.
	NumDevices() int
	InputBufferDevice() DeviceType
	OutputBufferDevice() DeviceType
	NumOutputs() int
	OutputNames() []string
	// NewInputBuffer allocates a buffer large enough for a full batch of raw
	// frames at the configured maximum dimensions.
	NewInputBuffer() *Buffer
	// NewOutputBuffers allocates one buffer per output layer, each sized for
	// a full batch. The returned slice length always equals NumOutputs.
	NewOutputBuffers() []*Buffer
	DeleteInputBuffer(b *Buffer) error
	DeleteOutputBuffer(b *Buffer) error
	// NewEvaluator builds a fully initialized evaluator, loading its own
	// model instance. No partially constructed evaluator is ever returned.
	NewEvaluator() (Evaluator, error)
	Destroy() error
}
