//go:build ORT || ALL

package backends

import (
	"errors"
	"fmt"
	"slices"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/scanforge/frameval/options"
)

// ortNet runs models through onnxruntime. The session is dynamic: input and
// output tensors are created per forward pass at the current shape, so
// Reshape only updates the host-side view.
type ortNet struct {
	session      *ort.DynamicAdvancedSession
	descriptor   *NetDescriptor
	shape        Shape
	input        []float32
	outputShapes map[string]Shape
	outputs      map[string][]float32
}

func newORTNet(onnxBytes []byte, d *NetDescriptor, o *options.Options) (Net, error) {
	sessionOptions, ok := o.BackendOptions.(*ort.SessionOptions)
	if !ok {
		return nil, fmt.Errorf("onnxruntime session options missing, create the constructor through an ORT session")
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, err
	}

	var inputMeta *ort.InputOutputInfo
	for i := range inputs {
		if inputs[i].Name == d.InputName {
			inputMeta = &inputs[i]
		}
	}
	if inputMeta == nil {
		return nil, fmt.Errorf("input layer %q not found in model %s", d.InputName, d.ModelPath)
	}

	outputShapes := make(map[string]Shape, len(d.OutputNames))
	for _, name := range d.OutputNames {
		found := false
		for i := range outputs {
			if outputs[i].Name == name {
				outputShapes[name] = Shape(slices.Clone(outputs[i].Dimensions))
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("output layer %q not found in model %s", name, d.ModelPath)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		onnxBytes,
		[]string{d.InputName},
		d.OutputNames,
		sessionOptions,
	)
	if err != nil {
		return nil, err
	}

	shape := Shape(slices.Clone(inputMeta.Dimensions))
	for i := range shape {
		if shape[i] <= 0 {
			shape[i] = 1
		}
	}

	return &ortNet{
		session:      session,
		descriptor:   d,
		shape:        shape,
		input:        make([]float32, shape.NumElements()),
		outputShapes: outputShapes,
	}, nil
}

func (n *ortNet) InputShape() Shape {
	return slices.Clone(n.shape)
}

func (n *ortNet) OutputShape(name string) (Shape, error) {
	declared, ok := n.outputShapes[name]
	if !ok {
		return nil, fmt.Errorf("output layer %q not found", name)
	}
	shape := slices.Clone(declared)
	if len(shape) > 0 && shape[0] <= 0 {
		shape[0] = n.shape[0]
	}
	return shape, nil
}

func (n *ortNet) Reshape(shape Shape) error {
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

func (n *ortNet) InputData() []float32 {
	return n.input
}

func (n *ortNet) Forward() (err error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(n.shape...), n.input)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, inputTensor.Destroy()) }()

	outputTensors := make([]ort.Value, len(n.descriptor.OutputNames))
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				err = errors.Join(err, t.Destroy())
			}
		}
	}()
	for i, name := range n.descriptor.OutputNames {
		shape, shapeErr := n.OutputShape(name)
		if shapeErr != nil {
			return shapeErr
		}
		outputTensors[i], err = ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			return err
		}
	}

	if runErr := n.session.Run([]ort.Value{inputTensor}, outputTensors); runErr != nil {
		return runErr
	}

	outputs := make(map[string][]float32, len(outputTensors))
	for i, name := range n.descriptor.OutputNames {
		data := outputTensors[i].(*ort.Tensor[float32]).GetData()
		outputs[name] = slices.Clone(data)
	}
	n.outputs = outputs
	return nil
}

func (n *ortNet) OutputData(name string) ([]float32, error) {
	if n.outputs == nil {
		return nil, fmt.Errorf("no forward pass has run yet")
	}
	data, ok := n.outputs[name]
	if !ok {
		return nil, fmt.Errorf("output layer %q not produced by forward pass", name)
	}
	return data, nil
}

func (n *ortNet) Destroy() error {
	if n.session == nil {
		return nil
	}
	err := n.session.Destroy()
	n.session = nil
	n.outputs = nil
	n.input = nil
	return err
}
