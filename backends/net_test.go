package backends

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scanforge/frameval/options"
)

func writeModelFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadModelBytesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, "model.onnx", []byte("onnx-payload"))
	writeModelFile(t, dir, "config.json", []byte("{}"))

	d := &NetDescriptor{ModelPath: dir, InputName: "data", OutputNames: []string{"prob"}}
	b, err := loadModelBytes(d)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []byte("onnx-payload"), b)
}

func TestLoadModelBytesNoOnnxFile(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, "config.json", []byte("{}"))

	d := &NetDescriptor{ModelPath: dir, InputName: "data", OutputNames: []string{"prob"}}
	_, err := loadModelBytes(d)
	assert.Error(t, err)
}

func TestLoadModelBytesMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	writeModelFile(t, dir, "model.onnx", []byte("first"))
	writeModelFile(t, dir, "model_quantized.onnx", []byte("second"))

	// ambiguous without a filename
	d := &NetDescriptor{ModelPath: dir, InputName: "data", OutputNames: []string{"prob"}}
	_, err := loadModelBytes(d)
	assert.Error(t, err)

	// OnnxFilename disambiguates
	d.OnnxFilename = "model_quantized.onnx"
	b, err := loadModelBytes(d)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []byte("second"), b)

	// a filename that matches nothing is an error, not a silent fallback
	d.OnnxFilename = "missing.onnx"
	_, err = loadModelBytes(d)
	assert.Error(t, err)
}

func TestNewNetUnknownBackend(t *testing.T) {
	d := &NetDescriptor{ModelPath: "/m", InputName: "data", OutputNames: []string{"prob"}}
	_, err := newNet(nil, d, &options.Options{Backend: "TENSORFLOW"})
	assert.Error(t, err)
}

func TestShapeHelpers(t *testing.T) {
	s := NewShape(4, 3, 224, 224)
	assert.Equal(t, []int{4, 3, 224, 224}, s.ValuesInt())
	assert.Equal(t, int64(4*3*224*224), s.NumElements())
	assert.Equal(t, "[4 3 224 224]", s.String())
}
