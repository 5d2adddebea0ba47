package backends

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/scanforge/frameval/profiling"
)

// batchEvaluator is the execution unit shared by the device-specific
// constructors. It owns a net and a transformer exclusively and moves one
// batch at a time through transform, forward and extract, recording each
// phase as a named profiler interval.
type batchEvaluator struct {
	config      *EvaluatorConfig
	descriptor  *NetDescriptor
	net         Net
	transformer InputTransformer
	profiler    *profiling.Profiler
	backend     string // interval name prefix, e.g. "cpu" or "cuda"
	device      DeviceType
	deviceID    int
	metadata    FrameMetadata
	outputSizes []int
	configured  bool
	destroyed   bool
}

func (e *batchEvaluator) Configure(meta FrameMetadata) error {
	if e.destroyed {
		return fmt.Errorf("evaluator has been destroyed")
	}
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid frame metadata: %w", err)
	}
	e.metadata = meta

	// The network input size is fixed by the model; the transformer scales
	// frames to it. Only the batch dimension ever changes.
	shape := e.net.InputShape()
	if len(shape) != 4 {
		return fmt.Errorf("expected 4-dimensional net input (batch, channels, height, width), got %s", shape)
	}
	if int(shape[0]) != e.config.MaxBatchSize {
		reshaped := NewShape(int64(e.config.MaxBatchSize), shape[1], shape[2], shape[3])
		if err := e.net.Reshape(reshaped); err != nil {
			return fmt.Errorf("reshaping net input to %s: %w", reshaped, err)
		}
	}

	if err := e.transformer.Configure(meta); err != nil {
		return fmt.Errorf("configuring input transformer: %w", err)
	}
	e.configured = true
	return nil
}

func (e *batchEvaluator) Evaluate(input *Buffer, outputs []*Buffer, batchSize int) error {
	if e.destroyed {
		return fmt.Errorf("evaluator has been destroyed")
	}
	if !e.configured {
		return fmt.Errorf("evaluate called before configure")
	}
	if batchSize <= 0 || batchSize > e.config.MaxBatchSize {
		return fmt.Errorf("batch size %d out of range (0, %d]", batchSize, e.config.MaxBatchSize)
	}
	if input == nil || input.Data == nil {
		return fmt.Errorf("input buffer is nil or released")
	}
	if input.Device != e.device {
		return fmt.Errorf("input buffer lives on %s, evaluator expects %s", input.Device, e.device)
	}
	frameBytes := e.metadata.PixelFormat.FrameBytes(e.metadata.Width, e.metadata.Height)
	if len(input.Data) < batchSize*frameBytes {
		return fmt.Errorf("input buffer holds %d bytes, batch of %d frames needs %d", len(input.Data), batchSize, batchSize*frameBytes)
	}
	if len(outputs) != len(e.outputSizes) {
		return fmt.Errorf("got %d output buffers, model has %d output layers", len(outputs), len(e.outputSizes))
	}
	for i, out := range outputs {
		if out == nil || out.Data == nil {
			return fmt.Errorf("output buffer %d is nil or released", i)
		}
		if out.Device != e.device {
			return fmt.Errorf("output buffer %d lives on %s, evaluator expects %s", i, out.Device, e.device)
		}
		if need := e.config.MaxBatchSize * e.outputSizes[i]; len(out.Data) < need {
			return fmt.Errorf("output buffer %d holds %d bytes, layer %q needs %d", i, len(out.Data), e.descriptor.OutputNames[i], need)
		}
	}

	shape := e.net.InputShape()
	if int(shape[0]) != batchSize {
		reshaped := NewShape(int64(batchSize), shape[1], shape[2], shape[3])
		if err := e.net.Reshape(reshaped); err != nil {
			return fmt.Errorf("reshaping net input to %s: %w", reshaped, err)
		}
	}

	start := time.Now()
	if err := e.transformer.TransformInput(input.Data, e.net.InputData(), batchSize); err != nil {
		return fmt.Errorf("transforming input batch: %w", err)
	}
	e.profiler.AddInterval(e.backend+":transform_input", start, time.Now())

	start = time.Now()
	if err := e.net.Forward(); err != nil {
		return fmt.Errorf("forward pass: %w", err)
	}
	e.profiler.AddInterval(e.backend+":net", start, time.Now())

	start = time.Now()
	for i, name := range e.descriptor.OutputNames {
		data, err := e.net.OutputData(name)
		if err != nil {
			return fmt.Errorf("reading output layer %q: %w", name, err)
		}
		floats := batchSize * e.outputSizes[i] / 4
		if len(data) < floats {
			return fmt.Errorf("output layer %q produced %d values, expected at least %d", name, len(data), floats)
		}
		putFloat32s(outputs[i].Data, data[:floats])
	}
	e.profiler.AddInterval(e.backend+":extract", start, time.Now())

	return nil
}

func (e *batchEvaluator) OutputSizes() []int {
	sizes := make([]int, len(e.outputSizes))
	copy(sizes, e.outputSizes)
	return sizes
}

func (e *batchEvaluator) Destroy() error {
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	return e.net.Destroy()
}

func putFloat32s(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// OutputFloats decodes the valid region of an output buffer back into
// float32 values for a batch. perFrameBytes is the evaluator's OutputSizes
// entry for the layer.
func OutputFloats(b *Buffer, batchSize, perFrameBytes int) ([]float32, error) {
	if b == nil || b.Data == nil {
		return nil, fmt.Errorf("output buffer is nil or released")
	}
	n := batchSize * perFrameBytes / 4
	if len(b.Data) < n*4 {
		return nil, fmt.Errorf("output buffer holds %d bytes, need %d", len(b.Data), n*4)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
	}
	return out, nil
}
