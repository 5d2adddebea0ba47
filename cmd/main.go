package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/scanforge/frameval"
	"github.com/scanforge/frameval/backends"
	"github.com/scanforge/frameval/options"
	"github.com/scanforge/frameval/util/checks"
	"github.com/scanforge/frameval/util/fileutil"
	"github.com/scanforge/frameval/util/imageutil"
)

var modelPath string
var inputPath string
var outputPath string
var backend string
var onnxLibraryPath string
var inputLayer string
var outputLayers cli.StringSlice
var batchSize int
var frameWidth int
var frameHeight int
var destination string
var onnxFilePath string

type frameResult struct {
	Frame   string               `json:"frame"`
	Outputs map[string][]float32 `json:"outputs"`
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run a model over a directory of decoded frames",
	Description: `Run loads every .jpg/.jpeg/.png file under --input, scales the frames to the
configured dimensions, and pushes them through the model in batches. One json
line per frame is written with the raw values of every output layer.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Path to the onnx model directory",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a directory of frame images",
			Aliases:     []string{"i"},
			Destination: &inputPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to the output .jsonl file. If omitted, the output will be sent to stdout",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Inference backend: GO or ORT",
			Aliases:     []string{"b"},
			Destination: &backend,
			Value:       "GO",
		},
		&cli.StringFlag{
			Name:        "onnxruntimeSharedLibrary",
			Usage:       "Path to the directory holding onnxruntime.so (ORT backend only)",
			Aliases:     []string{"s"},
			Destination: &onnxLibraryPath,
		},
		&cli.StringFlag{
			Name:        "inputLayer",
			Usage:       "Name of the model input layer",
			Destination: &inputLayer,
			Value:       "input",
		},
		&cli.StringSliceFlag{
			Name:        "outputLayer",
			Usage:       "Name of a model output layer to extract, repeatable, in order",
			Destination: &outputLayers,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of frames to process in a batch",
			Destination: &batchSize,
			Value:       4,
		},
		&cli.IntFlag{
			Name:        "frameWidth",
			Usage:       "Width frames are scaled to before batching",
			Destination: &frameWidth,
			Value:       224,
		},
		&cli.IntFlag{
			Name:        "frameHeight",
			Usage:       "Height frames are scaled to before batching",
			Destination: &frameHeight,
			Value:       224,
		},
	},
	Action: runEvaluation,
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download an onnx model from huggingface",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Huggingface model name",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "destination",
			Usage:       "Directory to store the model in",
			Aliases:     []string{"d"},
			Destination: &destination,
			Value:       "./models",
		},
		&cli.StringFlag{
			Name:        "onnxFilePath",
			Usage:       "Path of the .onnx file inside the repository, for repositories with several",
			Destination: &onnxFilePath,
		},
	},
	Action: func(_ *cli.Context) error {
		options := frameval.NewDownloadOptions()
		options.OnnxFilePath = onnxFilePath
		options.Verbose = isatty.IsTerminal(os.Stderr.Fd())
		downloaded, err := frameval.DownloadModel(modelPath, destination, options)
		if err != nil {
			return err
		}
		fmt.Println(downloaded)
		return nil
	},
}

func newSession() (*frameval.Session, error) {
	switch backend {
	case "GO":
		return frameval.NewGoSession()
	case "ORT":
		if onnxLibraryPath != "" {
			return frameval.NewORTSession(options.WithOnnxLibraryPath(onnxLibraryPath))
		}
		return frameval.NewORTSession()
	default:
		return nil, fmt.Errorf("unknown backend %q, expected GO or ORT", backend)
	}
}

func runEvaluation(_ *cli.Context) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	defer func() {
		checks.Check(session.Destroy())
	}()

	config := backends.EvaluatorConfig{
		MaxBatchSize:   batchSize,
		MaxFrameWidth:  frameWidth,
		MaxFrameHeight: frameHeight,
	}
	descriptor := backends.NetDescriptor{
		ModelPath:   modelPath,
		InputName:   inputLayer,
		OutputNames: outputLayers.Value(),
	}
	constructor, err := frameval.NewCPUEvaluatorConstructor(session, config, descriptor, imageutil.RescaleStep())
	if err != nil {
		return err
	}

	evaluator, err := constructor.NewEvaluator()
	if err != nil {
		return err
	}
	defer func() {
		checks.Check(evaluator.Destroy())
	}()

	meta := backends.FrameMetadata{
		Width:       frameWidth,
		Height:      frameHeight,
		PixelFormat: backends.PixelFormatRGB24,
	}
	if err := evaluator.Configure(meta); err != nil {
		return err
	}

	frames, err := listFrameFiles(inputPath)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frame images found at %s", inputPath)
	}

	var writer io.WriteCloser
	if outputPath != "" {
		writer, err = fileutil.NewFileWriter(outputPath)
		if err != nil {
			return err
		}
		defer func() {
			checks.Check(writer.Close())
		}()
	} else {
		writer = os.Stdout
	}

	inputBuffer := constructor.NewInputBuffer()
	outputBuffers := constructor.NewOutputBuffers()
	defer func() {
		checks.Check(constructor.DeleteInputBuffer(inputBuffer))
		for _, b := range outputBuffers {
			checks.Check(constructor.DeleteOutputBuffer(b))
		}
	}()

	outputSizes := evaluator.OutputSizes()
	encoder := jsoniter.ConfigFastest.NewEncoder(writer)
	frameBytes := meta.PixelFormat.FrameBytes(frameWidth, frameHeight)

	for start := 0; start < len(frames); start += batchSize {
		end := min(start+batchSize, len(frames))
		batch := frames[start:end]
		for i, framePath := range batch {
			raw, loadErr := loadFrameRGB24(framePath)
			if loadErr != nil {
				return fmt.Errorf("loading frame %s: %w", framePath, loadErr)
			}
			copy(inputBuffer.Data[i*frameBytes:], raw)
		}

		if err := evaluator.Evaluate(inputBuffer, outputBuffers, len(batch)); err != nil {
			return err
		}

		for i, framePath := range batch {
			result := frameResult{Frame: framePath, Outputs: map[string][]float32{}}
			for j, name := range constructor.OutputNames() {
				floats, outErr := backends.OutputFloats(outputBuffers[j], len(batch), outputSizes[j])
				if outErr != nil {
					return outErr
				}
				perFrame := outputSizes[j] / 4
				result.Outputs[name] = floats[i*perFrame : (i+1)*perFrame]
			}
			if err := encoder.Encode(result); err != nil {
				return err
			}
		}
	}

	for _, line := range session.GetStats() {
		fmt.Fprintln(os.Stderr, line)
	}
	return nil
}

func listFrameFiles(dir string) ([]string, error) {
	var frames []string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		name := strings.ToLower(info.Name())
		if strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg") || strings.HasSuffix(name, ".png") {
			frames = append(frames, fileutil.PathJoinSafe(dir, parent, info.Name()))
		}
		return true, nil
	}
	err := fileutil.WalkDir()(context.Background(), dir, walker)
	return frames, err
}

func loadFrameRGB24(path string) ([]byte, error) {
	b, err := fileutil.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() != frameWidth || img.Bounds().Dy() != frameHeight {
		img = imageutil.ResizeNearest(img, frameWidth, frameHeight)
	}
	return imageutil.ImageToRGB24(img), nil
}

func main() {
	app := &cli.App{
		Name:     "frameval",
		Usage:    "Batched neural-network evaluation over decoded video frames",
		Commands: []*cli.Command{runCommand, downloadCommand},
	}
	if err := app.Run(os.Args); err != nil {
		checks.Check(err)
	}
}
