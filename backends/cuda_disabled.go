//go:build !ORT && !ALL

package backends

import (
	"fmt"

	"github.com/scanforge/frameval/options"
	"github.com/scanforge/frameval/profiling"
	"github.com/scanforge/frameval/util/imageutil"
)

type CUDAEvaluatorConstructor struct {
	*constructorCore
}

func NewCUDAEvaluatorConstructor(
	_ EvaluatorConfig,
	_ NetDescriptor,
	_ *options.Options,
	_ *profiling.Profiler,
	_ ...imageutil.NormalizationStep,
) (*CUDAEvaluatorConstructor, error) {
	return nil, fmt.Errorf("the CUDA backend is not available: build with -tags ORT or -tags ALL")
}
