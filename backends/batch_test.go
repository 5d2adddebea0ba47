package backends

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scanforge/frameval/profiling"
)

// fakeNet is a spy runtime: it tracks reshape and forward calls and
// produces deterministic output values keyed to the forward count, so
// extraction bounds can be checked against sentinel fills.
type fakeNet struct {
	shape        Shape
	input        []float32
	outputShapes map[string]Shape
	reshapeCalls int
	forwardCalls int
	destroyed    bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		shape: NewShape(1, 3, 8, 8),
		input: make([]float32, 3*8*8),
		outputShapes: map[string]Shape{
			"prob": NewShape(-1, 1000),
			"fc7":  NewShape(-1, 256),
		},
	}
}

func (n *fakeNet) InputShape() Shape {
	return append(Shape{}, n.shape...)
}

func (n *fakeNet) OutputShape(name string) (Shape, error) {
	declared, ok := n.outputShapes[name]
	if !ok {
		return nil, fmt.Errorf("output layer %q not found", name)
	}
	shape := append(Shape{}, declared...)
	if shape[0] <= 0 {
		shape[0] = n.shape[0]
	}
	return shape, nil
}

func (n *fakeNet) Reshape(shape Shape) error {
	n.reshapeCalls++
	n.shape = append(Shape{}, shape...)
	n.input = make([]float32, shape.NumElements())
	return nil
}

func (n *fakeNet) InputData() []float32 {
	return n.input
}

func (n *fakeNet) Forward() error {
	n.forwardCalls++
	return nil
}

func (n *fakeNet) OutputData(name string) ([]float32, error) {
	shape, err := n.OutputShape(name)
	if err != nil {
		return nil, err
	}
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = float32(n.forwardCalls*1000) + float32(i%7)
	}
	return data, nil
}

func (n *fakeNet) Destroy() error {
	n.destroyed = true
	return nil
}

func testConfig() EvaluatorConfig {
	return EvaluatorConfig{MaxBatchSize: 4, MaxFrameWidth: 224, MaxFrameHeight: 224}
}

func testDescriptor() NetDescriptor {
	return NetDescriptor{
		ModelPath:   "/models/test",
		InputName:   "data",
		OutputNames: []string{"prob", "fc7"},
	}
}

func testMetadata() FrameMetadata {
	return FrameMetadata{Width: 16, Height: 16, PixelFormat: PixelFormatRGB24}
}

func newTestConstructor(t *testing.T, net *fakeNet) (*constructorCore, *profiling.Profiler) {
	t.Helper()
	profiler := profiling.New()
	// the constructor probes the factory once and destroys the probe, so the
	// first call hands out a throwaway net and later calls the tracked spy
	probed := false
	factory := func() (Net, error) {
		if !probed {
			probed = true
			return newFakeNet(), nil
		}
		return net, nil
	}
	core, err := newConstructorCore(
		testConfig(), testDescriptor(), profiler,
		"cpu", DeviceCPU, 1,
		factory,
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	return core, profiler
}

func newConfiguredEvaluator(t *testing.T, core *constructorCore) Evaluator {
	t.Helper()
	evaluator, err := core.NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	if err := evaluator.Configure(testMetadata()); err != nil {
		t.Fatal(err)
	}
	return evaluator
}

func fillSentinel(buffers []*Buffer) {
	for _, b := range buffers {
		for i := range b.Data {
			b.Data[i] = 0xAA
		}
	}
}

func TestInputBufferSizing(t *testing.T) {
	core, _ := newTestConstructor(t, newFakeNet())
	buffer := core.NewInputBuffer()
	assert.Equal(t, 4*224*224*3, len(buffer.Data))
	assert.Equal(t, DeviceCPU, buffer.Device)
}

func TestOutputCountInvariant(t *testing.T) {
	core, _ := newTestConstructor(t, newFakeNet())
	assert.Equal(t, 2, core.NumOutputs())
	assert.Equal(t, []string{"prob", "fc7"}, core.OutputNames())
	buffers := core.NewOutputBuffers()
	assert.Equal(t, core.NumOutputs(), len(buffers))
	// one output layer of 1000 floats: max_batch_size * 1000 * 4 bytes
	assert.Equal(t, 4*1000*4, len(buffers[0].Data))
	assert.Equal(t, 4*256*4, len(buffers[1].Data))
}

func TestBufferDoubleFree(t *testing.T) {
	core, _ := newTestConstructor(t, newFakeNet())
	buffer := core.NewInputBuffer()
	assert.NoError(t, core.DeleteInputBuffer(buffer))
	assert.Error(t, core.DeleteInputBuffer(buffer))
	assert.Error(t, core.DeleteOutputBuffer(nil))
}

func TestEvaluateWritesExactBytes(t *testing.T) {
	net := newFakeNet()
	core, _ := newTestConstructor(t, net)
	evaluator := newConfiguredEvaluator(t, core)

	input := core.NewInputBuffer()
	outputs := core.NewOutputBuffers()
	fillSentinel(outputs)

	batchSize := 2
	if err := evaluator.Evaluate(input, outputs, batchSize); err != nil {
		t.Fatal(err)
	}

	// exactly batch_size * output_sizes[i] valid bytes, sentinel beyond
	valid := batchSize * 1000 * 4
	expected, err := net.OutputData("prob")
	if err != nil {
		t.Fatal(err)
	}
	got, err := OutputFloats(outputs[0], batchSize, 1000*4)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, expected[:batchSize*1000], got)
	for i := valid; i < len(outputs[0].Data); i++ {
		if outputs[0].Data[i] != 0xAA {
			t.Fatalf("byte %d beyond the valid region was touched", i)
		}
	}
}

func TestEvaluateBatchSizeBounds(t *testing.T) {
	core, _ := newTestConstructor(t, newFakeNet())
	evaluator := newConfiguredEvaluator(t, core)
	input := core.NewInputBuffer()
	outputs := core.NewOutputBuffers()

	assert.Error(t, evaluator.Evaluate(input, outputs, 0))
	assert.Error(t, evaluator.Evaluate(input, outputs, -1))
	// exceeding max batch size must fail loudly, never truncate
	assert.Error(t, evaluator.Evaluate(input, outputs, 5))
}

func TestEvaluateBeforeConfigure(t *testing.T) {
	core, _ := newTestConstructor(t, newFakeNet())
	evaluator, err := core.NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	input := core.NewInputBuffer()
	outputs := core.NewOutputBuffers()
	assert.Error(t, evaluator.Evaluate(input, outputs, 1))
}

func TestConfigureReshapeIdempotent(t *testing.T) {
	net := newFakeNet()
	core, _ := newTestConstructor(t, net)
	evaluator := newConfiguredEvaluator(t, core)

	// first configure reshapes batch 1 -> 4
	assert.Equal(t, 1, net.reshapeCalls)
	assert.Equal(t, NewShape(4, 3, 8, 8), net.InputShape())

	// identical metadata must not reshape again
	if err := evaluator.Configure(testMetadata()); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, net.reshapeCalls)
}

func TestEvaluateReshapeSequence(t *testing.T) {
	net := newFakeNet()
	core, _ := newTestConstructor(t, net)
	evaluator := newConfiguredEvaluator(t, core)
	input := core.NewInputBuffer()
	outputs := core.NewOutputBuffers()

	// full batch: reshape 4 -> 4 is skipped
	if err := evaluator.Evaluate(input, outputs, 4); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, net.reshapeCalls)
	firstBatch, err := OutputFloats(outputs[0], 4, 1000*4)
	if err != nil {
		t.Fatal(err)
	}

	// smaller batch reshapes 4 -> 2 and fully overwrites its valid region
	if err := evaluator.Evaluate(input, outputs, 2); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, net.reshapeCalls)
	assert.Equal(t, NewShape(2, 3, 8, 8), net.InputShape())

	secondBatch, err := OutputFloats(outputs[0], 2, 1000*4)
	if err != nil {
		t.Fatal(err)
	}
	expected, err := net.OutputData("prob")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, expected[:2*1000], secondBatch)
	assert.NotEqual(t, firstBatch[:2*1000], secondBatch)
}

func TestEvaluateOutputBufferChecks(t *testing.T) {
	core, _ := newTestConstructor(t, newFakeNet())
	evaluator := newConfiguredEvaluator(t, core)
	input := core.NewInputBuffer()
	outputs := core.NewOutputBuffers()

	// wrong output buffer count
	assert.Error(t, evaluator.Evaluate(input, outputs[:1], 1))

	// undersized output buffer
	small := []*Buffer{newBuffer(10, DeviceCPU), newBuffer(10, DeviceCPU)}
	assert.Error(t, evaluator.Evaluate(input, small, 1))

	// released buffers are rejected
	if err := core.DeleteInputBuffer(input); err != nil {
		t.Fatal(err)
	}
	assert.Error(t, evaluator.Evaluate(input, outputs, 1))
}

func TestEvaluateRecordsIntervals(t *testing.T) {
	net := newFakeNet()
	core, profiler := newTestConstructor(t, net)
	evaluator := newConfiguredEvaluator(t, core)
	input := core.NewInputBuffer()
	outputs := core.NewOutputBuffers()

	if err := evaluator.Evaluate(input, outputs, 1); err != nil {
		t.Fatal(err)
	}

	snapshot := profiler.Snapshot()
	for _, name := range []string{"cpu:transform_input", "cpu:net", "cpu:extract"} {
		stats, ok := snapshot[name]
		if !ok {
			t.Fatalf("interval %s was not recorded", name)
		}
		assert.Equal(t, uint64(1), stats.NumCalls)
	}
	assert.Equal(t, 1, net.forwardCalls)
}

func TestEvaluatorDestroy(t *testing.T) {
	net := newFakeNet()
	core, _ := newTestConstructor(t, net)
	evaluator := newConfiguredEvaluator(t, core)

	assert.NoError(t, evaluator.Destroy())
	assert.True(t, net.destroyed)
	assert.Error(t, evaluator.Configure(testMetadata()))
	assert.Error(t, evaluator.Evaluate(core.NewInputBuffer(), core.NewOutputBuffers(), 1))
	// destroying twice is a no-op
	assert.NoError(t, evaluator.Destroy())
}

func TestOutputSizesDerivedFromNet(t *testing.T) {
	core, _ := newTestConstructor(t, newFakeNet())
	evaluator := newConfiguredEvaluator(t, core)
	assert.Equal(t, []int{1000 * 4, 256 * 4}, evaluator.OutputSizes())
}

func TestConstructorFailsOnMissingLayer(t *testing.T) {
	descriptor := testDescriptor()
	descriptor.OutputNames = []string{"prob", "missing"}
	_, err := newConstructorCore(
		testConfig(), descriptor, profiling.New(),
		"cpu", DeviceCPU, 1,
		func() (Net, error) { return newFakeNet(), nil },
		nil,
	)
	assert.Error(t, err)
}

func TestPutFloat32sRoundTrip(t *testing.T) {
	src := []float32{0, 1.5, -2.25, 3e7}
	dst := make([]byte, len(src)*4)
	putFloat32s(dst, src)
	got, err := OutputFloats(&Buffer{Data: dst, Device: DeviceCPU}, 1, len(dst))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, src, got)
	assert.False(t, bytes.Equal(dst, make([]byte, len(dst))))
}
