package backends

import (
	"fmt"
	"slices"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// goNet runs models on the pure Go gonnx runtime. It keeps a float32 slice
// as the live input tensor memory; Reshape reinterprets that memory for the
// new batch dimension without the runtime reallocating anything.
type goNet struct {
	model      *gonnx.Model
	descriptor *NetDescriptor
	shape      Shape
	input      []float32
	outputs    map[string]tensor.Tensor
}

func newGoNet(onnxBytes []byte, d *NetDescriptor) (Net, error) {
	model, err := gonnx.NewModelFromBytes(onnxBytes)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(model.InputNames(), d.InputName) {
		return nil, fmt.Errorf("input layer %q not found in model %s", d.InputName, d.ModelPath)
	}
	outputNames := model.OutputNames()
	for _, name := range d.OutputNames {
		if !slices.Contains(outputNames, name) {
			return nil, fmt.Errorf("output layer %q not found in model %s", name, d.ModelPath)
		}
	}

	declared := model.InputShapes()[d.InputName]
	shape := make(Shape, len(declared))
	for i, dim := range declared {
		shape[i] = dim.Size
		if shape[i] <= 0 {
			// dynamic dimension, the batch axis in every model we load
			shape[i] = 1
		}
	}

	n := &goNet{
		model:      model,
		descriptor: d,
		shape:      shape,
		input:      make([]float32, shape.NumElements()),
	}
	return n, nil
}

func (n *goNet) InputShape() Shape {
	return slices.Clone(n.shape)
}

func (n *goNet) OutputShape(name string) (Shape, error) {
	declared, ok := n.model.OutputShapes()[name]
	if !ok {
		return nil, fmt.Errorf("output layer %q not found", name)
	}
	shape := make(Shape, len(declared))
	for i, dim := range declared {
		shape[i] = dim.Size
	}
	if len(shape) > 0 && shape[0] <= 0 {
		shape[0] = n.shape[0]
	}
	return shape, nil
}

func (n *goNet) Reshape(shape Shape) error {
	if len(shape) != len(n.shape) {
		return fmt.Errorf("reshape rank mismatch: have %s, want rank %d", shape, len(n.shape))
	}
	elements := shape.NumElements()
	if elements <= 0 {
		return fmt.Errorf("invalid shape %s", shape)
	}
	n.shape = slices.Clone(shape)
	if int64(cap(n.input)) < elements {
		n.input = make([]float32, elements)
	} else {
		n.input = n.input[:elements]
	}
	return nil
}

func (n *goNet) InputData() []float32 {
	return n.input
}

func (n *goNet) Forward() error {
	input := tensor.New(
		tensor.WithShape(n.shape.ValuesInt()...),
		tensor.WithBacking(n.input),
	)
	outputs, err := n.model.Run(map[string]tensor.Tensor{n.descriptor.InputName: input})
	if err != nil {
		return err
	}
	n.outputs = outputs
	return nil
}

func (n *goNet) OutputData(name string) ([]float32, error) {
	if n.outputs == nil {
		return nil, fmt.Errorf("no forward pass has run yet")
	}
	t, ok := n.outputs[name]
	if !ok {
		return nil, fmt.Errorf("output layer %q not produced by forward pass", name)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("output layer %q is not float32, got %T", name, t.Data())
	}
	return data, nil
}

func (n *goNet) Destroy() error {
	n.model = nil
	n.outputs = nil
	n.input = nil
	return nil
}
