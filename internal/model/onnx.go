package model

import (
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXClassifier runs an ONNX artifact through onnxruntime. Tensors are preallocated and
// reused, so runs are serialized.
type ONNXClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

var _ Classifier = (*ONNXClassifier)(nil)

// InitRuntime loads the onnxruntime shared library once per process. An empty
// libraryPath keeps the library's platform default.
func InitRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// LoadONNX is the default Loader. Tensor names and the output shape are taken from
// the model itself when the metadata leaves them out.
func LoadONNX(modelPath string, metadata Metadata) (Classifier, error) {
	return NewONNXClassifier(modelPath, metadata)
}

func NewONNXClassifier(modelPath string, metadata Metadata) (*ONNXClassifier, error) {
	if err := InitRuntime(""); err != nil {
		return nil, err
	}

	metadata, err := reconcileMetadata(modelPath, metadata)
	if err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXClassifier{
		session:      session,
		metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// reconcileMetadata checks the metadata against the graph's first input and output.
func reconcileMetadata(modelPath string, metadata Metadata) (Metadata, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return metadata, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return metadata, fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}

	if metadata.InputName == "" {
		metadata.InputName = inputs[0].Name
	}
	if metadata.OutputName == "" {
		metadata.OutputName = outputs[0].Name
	}

	if err := checkInputShape(inputs[0].Dimensions, metadata.InputShape); err != nil {
		return metadata, fmt.Errorf("model input %s: %w", inputs[0].Name, err)
	}
	// The label set may be shorter than the real output; size the tensor from the graph.
	if outputLen := fixedLen(outputs[0].Dimensions); outputLen > 0 {
		metadata.OutputShape = []int64{1, int64(outputLen)}
	}
	return metadata, nil
}

// checkInputShape compares the graph's input dimensions with the metadata shape. With the
// same rank every static non-batch axis must match, so an NCHW graph never accepts NHWC
// metadata. A graph of another rank (e.g. flattened) only needs the same element count.
func checkInputShape(dims ort.Shape, want []int64) error {
	if len(dims) == len(want) {
		for i := 1; i < len(dims); i++ {
			if dims[i] > 0 && dims[i] != want[i] {
				return fmt.Errorf("graph shape %v does not match metadata shape %v", dims, want)
			}
		}
		return nil
	}
	if got := fixedLen(dims); got != product(want) {
		return fmt.Errorf("graph shape %v has %d values, metadata shape %v has %d", dims, got, want, product(want))
	}
	return nil
}

// fixedLen treats dynamic (negative) dimensions as the batch of one.
func fixedLen(dims ort.Shape) int {
	if len(dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range dims {
		if d > 0 {
			n *= int(d)
		}
	}
	return n
}

func (c *ONNXClassifier) Run(input []float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), len(data))
	}
	copy(data, input)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return slices.Clone(c.outputTensor.GetData()), nil
}

func (c *ONNXClassifier) Metadata() Metadata {
	return c.metadata
}

func (c *ONNXClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inputTensor != nil {
		c.inputTensor.Destroy()
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	ort.DestroyEnvironment()
}
