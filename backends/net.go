package backends

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scanforge/frameval/options"
	"github.com/scanforge/frameval/util/fileutil"
)

// NetDescriptor identifies a trained model: where its graph and weights
// live, the name of the input layer to feed, and the ordered output layers
// to extract. ONNX bundles weights with the graph, so a single model path
// replaces separate graph/weights files; OnnxFilename disambiguates
// directories holding more than one .onnx file.
type NetDescriptor struct {
	ModelPath    string
	OnnxFilename string
	InputName    string
	OutputNames  []string
}

func (d *NetDescriptor) Validate() error {
	if d.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	if d.InputName == "" {
		return fmt.Errorf("input layer name is required")
	}
	if len(d.OutputNames) == 0 {
		return fmt.Errorf("at least one output layer name is required")
	}
	seen := make(map[string]bool, len(d.OutputNames))
	for _, name := range d.OutputNames {
		if name == "" {
			return fmt.Errorf("output layer names must be non-empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate output layer name %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Shape holds tensor dimensions. Net input shapes are always
// [batch, channels, height, width].
type Shape []int64

func NewShape(dimensions ...int64) Shape {
	return dimensions
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

func (s Shape) ValuesInt() []int {
	output := make([]int, len(s))
	for i, v := range s {
		output[i] = int(v)
	}
	return output
}

func (s Shape) NumElements() int64 {
	n := int64(1)
	for _, v := range s {
		n *= v
	}
	return n
}

// Net is the boundary to the underlying inference runtime. The runtime is
// opaque to the evaluator: it loads weights at construction, can be
// reshaped along the batch dimension, runs forward passes, and exposes flat
// float32 output tensors by layer name. Implementations are not safe for
// concurrent use; each evaluator owns its net exclusively.
type Net interface {
	// InputShape reports the current shape of the input tensor.
	InputShape() Shape
	// OutputShape reports the shape of a named output layer, with the batch
	// dimension resolved to the current input batch dimension.
	OutputShape(name string) (Shape, error)
	// Reshape changes the input tensor shape. Reshaping to the current
	// shape is a no-op at the runtime level, but callers are expected to
	// check first.
	Reshape(shape Shape) error
	// InputData exposes the backing memory of the input tensor for the
	// current shape. The transformer writes the batch into it in place.
	InputData() []float32
	Forward() error
	// OutputData returns the flat data of a named output layer from the
	// most recent Forward call.
	OutputData(name string) ([]float32, error)
	Destroy() error
}

// loadModelBytes resolves the descriptor to a single .onnx file and reads
// it. Model paths may be local or any scheme the file system layer
// understands (e.g. s3://).
func loadModelBytes(d *NetDescriptor) ([]byte, error) {
	onnxFiles, err := findOnnxFiles(d.ModelPath)
	if err != nil {
		return nil, err
	}
	var modelFile string
	switch {
	case len(onnxFiles) == 0:
		return nil, fmt.Errorf("no .onnx file detected at %s", d.ModelPath)
	case len(onnxFiles) > 1:
		if d.OnnxFilename == "" {
			return nil, fmt.Errorf("multiple .onnx files detected at %s and no OnnxFilename specified", d.ModelPath)
		}
		for i := range onnxFiles {
			if onnxFiles[i][1] == d.OnnxFilename {
				modelFile = fileutil.PathJoinSafe(onnxFiles[i]...)
			}
		}
		if modelFile == "" {
			return nil, fmt.Errorf("file %s not found at %s", d.OnnxFilename, d.ModelPath)
		}
	default:
		modelFile = fileutil.PathJoinSafe(onnxFiles[0]...)
	}
	return fileutil.ReadFileBytes(modelFile)
}

func findOnnxFiles(path string) ([][]string, error) {
	var onnxFiles [][]string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			onnxFiles = append(onnxFiles, []string{fileutil.PathJoinSafe(path, parent), info.Name()})
		}
		return true, nil
	}
	err := fileutil.WalkDir()(context.Background(), path, walker)
	return onnxFiles, err
}

// newNet builds a runtime instance for the configured backend from model
// bytes. Every evaluator gets its own instance; nets are never shared.
func newNet(onnxBytes []byte, d *NetDescriptor, o *options.Options) (Net, error) {
	switch o.Backend {
	case "", "GO":
		return newGoNet(onnxBytes, d)
	case "ORT":
		return newORTNet(onnxBytes, d, o)
	default:
		return nil, fmt.Errorf("unknown backend %q", o.Backend)
	}
}

// LoadNet loads the model named by the descriptor on the configured
// backend. A bad path or a missing named layer fails here, before any
// evaluator exists.
func LoadNet(d *NetDescriptor, o *options.Options) (Net, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	onnxBytes, err := loadModelBytes(d)
	if err != nil {
		return nil, err
	}
	return newNet(onnxBytes, d, o)
}

// outputSizesPerFrame derives the per-frame byte size of every output layer
// from the net's output shapes: the product of all non-batch dimensions
// times the float32 element size.
func outputSizesPerFrame(net Net, outputNames []string) ([]int, error) {
	sizes := make([]int, len(outputNames))
	for i, name := range outputNames {
		shape, err := net.OutputShape(name)
		if err != nil {
			return nil, err
		}
		if len(shape) == 0 {
			return nil, fmt.Errorf("output layer %q has no shape", name)
		}
		perFrame := int64(1)
		for _, dim := range shape[1:] {
			if dim <= 0 {
				return nil, fmt.Errorf("output layer %q has dynamic non-batch dimension in shape %s", name, shape)
			}
			perFrame *= dim
		}
		sizes[i] = int(perFrame) * 4
	}
	return sizes, nil
}
