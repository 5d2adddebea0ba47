package backends

import (
	"github.com/scanforge/frameval/options"
	"github.com/scanforge/frameval/profiling"
	"github.com/scanforge/frameval/util/imageutil"
)

// CPUEvaluatorConstructor is the host-memory reference backend. It exposes a
// single execution unit and keeps every buffer in host memory; the net runs
// on whichever runtime the options select (pure Go by default, onnxruntime
// in ORT builds).
type CPUEvaluatorConstructor struct {
	*constructorCore
}

// NewCPUEvaluatorConstructor loads the descriptor's model once to size
// output buffers, then manufactures evaluators on demand. The optional
// normalization steps are applied per pixel by every evaluator's
// transformer, in order.
func NewCPUEvaluatorConstructor(
	config EvaluatorConfig,
	descriptor NetDescriptor,
	o *options.Options,
	profiler *profiling.Profiler,
	steps ...imageutil.NormalizationStep,
) (*CPUEvaluatorConstructor, error) {
	if o == nil {
		o = options.Defaults()
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	onnxBytes, err := loadModelBytes(&descriptor)
	if err != nil {
		return nil, err
	}
	factory := func() (Net, error) {
		return newNet(onnxBytes, &descriptor, o)
	}
	core, err := newConstructorCore(config, descriptor, profiler, "cpu", DeviceCPU, 1, factory, steps)
	if err != nil {
		return nil, err
	}
	return &CPUEvaluatorConstructor{constructorCore: core}, nil
}
