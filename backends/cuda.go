//go:build ORT || ALL

package backends

import (
	"fmt"

	"github.com/scanforge/frameval/options"
	"github.com/scanforge/frameval/profiling"
	"github.com/scanforge/frameval/util/imageutil"
)

// CUDAEvaluatorConstructor targets CUDA devices through the onnxruntime
// CUDA execution provider. Its buffers are tagged DeviceCUDA: they are host
// staging regions the provider uploads, and pipeline stages must treat them
// as device-resident when deciding where to copy. Evaluators are assigned
// device ids round-robin across the configured device count.
type CUDAEvaluatorConstructor struct {
	*constructorCore
}

func NewCUDAEvaluatorConstructor(
	config EvaluatorConfig,
	descriptor NetDescriptor,
	o *options.Options,
	profiler *profiling.Profiler,
	steps ...imageutil.NormalizationStep,
) (*CUDAEvaluatorConstructor, error) {
	if o == nil || o.Backend != "ORT" {
		return nil, fmt.Errorf("the CUDA backend requires an ORT session")
	}
	if o.ORTOptions.CudaOptions == nil {
		return nil, fmt.Errorf("the CUDA backend requires CUDA provider options, use options.WithCuda")
	}
	devices := o.Devices
	if devices <= 0 {
		devices = 1
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	onnxBytes, err := loadModelBytes(&descriptor)
	if err != nil {
		return nil, err
	}
	factory := func() (Net, error) {
		return newORTNet(onnxBytes, &descriptor, o)
	}
	core, err := newConstructorCore(config, descriptor, profiler, "cuda", DeviceCUDA, devices, factory, steps)
	if err != nil {
		return nil, err
	}
	return &CUDAEvaluatorConstructor{constructorCore: core}, nil
}
