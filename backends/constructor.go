package backends

import (
	"fmt"
	"slices"

	"github.com/scanforge/frameval/profiling"
	"github.com/scanforge/frameval/util/imageutil"
)

// constructorCore carries the capability bookkeeping shared by the device
// variants: descriptor-derived output sizes, the net factory evaluators are
// built from, and buffer sizing from the config. The config outlives every
// evaluator and buffer the constructor hands out.
type constructorCore struct {
	config      *EvaluatorConfig
	descriptor  *NetDescriptor
	profiler    *profiling.Profiler
	netFactory  func() (Net, error)
	steps       []imageutil.NormalizationStep
	outputSizes []int
	netWidth    int
	netHeight   int
	backend     string
	device      DeviceType
	devices     int
	nextDevice  int
}

// newConstructorCore probes the model once to derive the net input
// dimensions and the per-frame output sizes. A bad model path or a missing
// named layer fails here: no constructor is returned.
func newConstructorCore(
	config EvaluatorConfig,
	descriptor NetDescriptor,
	profiler *profiling.Profiler,
	backend string,
	device DeviceType,
	devices int,
	netFactory func() (Net, error),
	steps []imageutil.NormalizationStep,
) (*constructorCore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid evaluator config: %w", err)
	}
	if err := descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid net descriptor: %w", err)
	}
	if profiler == nil {
		profiler = profiling.New()
	}

	probe, err := netFactory()
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", descriptor.ModelPath, err)
	}
	inputShape := probe.InputShape()
	if len(inputShape) != 4 {
		destroyErr := probe.Destroy()
		if destroyErr != nil {
			return nil, destroyErr
		}
		return nil, fmt.Errorf("expected 4-dimensional net input (batch, channels, height, width), got %s", inputShape)
	}
	outputSizes, sizesErr := outputSizesPerFrame(probe, descriptor.OutputNames)
	if err := probe.Destroy(); err != nil {
		return nil, err
	}
	if sizesErr != nil {
		return nil, sizesErr
	}

	return &constructorCore{
		config:      &config,
		descriptor:  &descriptor,
		profiler:    profiler,
		netFactory:  netFactory,
		steps:       steps,
		outputSizes: outputSizes,
		netWidth:    int(inputShape[3]),
		netHeight:   int(inputShape[2]),
		backend:     backend,
		device:      device,
		devices:     devices,
	}, nil
}

func (c *constructorCore) NumDevices() int {
	return c.devices
}

func (c *constructorCore) InputBufferDevice() DeviceType {
	return c.device
}

func (c *constructorCore) OutputBufferDevice() DeviceType {
	return c.device
}

func (c *constructorCore) NumOutputs() int {
	return len(c.descriptor.OutputNames)
}

func (c *constructorCore) OutputNames() []string {
	return slices.Clone(c.descriptor.OutputNames)
}

func (c *constructorCore) NewInputBuffer() *Buffer {
	return newBuffer(c.config.InputBufferBytes(), c.device)
}

func (c *constructorCore) NewOutputBuffers() []*Buffer {
	buffers := make([]*Buffer, len(c.outputSizes))
	for i, size := range c.outputSizes {
		buffers[i] = newBuffer(c.config.MaxBatchSize*size, c.device)
	}
	return buffers
}

func (c *constructorCore) DeleteInputBuffer(b *Buffer) error {
	return releaseBuffer(b)
}

func (c *constructorCore) DeleteOutputBuffer(b *Buffer) error {
	return releaseBuffer(b)
}

func (c *constructorCore) NewEvaluator() (Evaluator, error) {
	net, err := c.netFactory()
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", c.descriptor.ModelPath, err)
	}
	deviceID := 0
	if c.devices > 0 {
		deviceID = c.nextDevice % c.devices
		c.nextDevice++
	}
	return &batchEvaluator{
		config:      c.config,
		descriptor:  c.descriptor,
		net:         net,
		transformer: NewRGBTransformer(c.netWidth, c.netHeight, c.steps...),
		profiler:    c.profiler,
		backend:     c.backend,
		device:      c.device,
		deviceID:    deviceID,
		outputSizes: slices.Clone(c.outputSizes),
	}, nil
}

func (c *constructorCore) Destroy() error {
	c.netFactory = nil
	return nil
}
