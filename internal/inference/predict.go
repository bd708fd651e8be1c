// Package inference turns an uploaded image into a class label using a loaded classifier.
package inference

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/nfnt/resize"
	"gonum.org/v1/gonum/floats"

	"github.com/Brownie44l1/leaf-api/internal/model"
)

// Unknown is returned when the winning index has no entry in the label set.
const Unknown = "Unknown"

var (
	ErrEmptyScores = errors.New("classifier returned no scores")
	ErrInput       = errors.New("invalid input tensor")
)

type Result struct {
	Label string
	Index int
}

// Argmax returns the index of the highest score; the first one wins a tie.
func Argmax(scores []float32) (int, error) {
	if len(scores) == 0 {
		return 0, ErrEmptyScores
	}
	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = float64(s)
	}
	return floats.MaxIdx(values), nil
}

// LabelFor maps index into labels. ok is false, and the label Unknown, when index is out of range.
func LabelFor(index int, labels []string) (label string, ok bool) {
	if index < 0 || index >= len(labels) {
		return Unknown, false
	}
	return labels[index], true
}

// Pipeline binds a classifier to the label set and resolution it was trained with.
type Pipeline struct {
	classifier model.Classifier
	labels     []string
	pre        Preprocessor
	inputLen   int
}

// NewPipeline takes labels, resolution and layout from the classifier's metadata.
func NewPipeline(classifier model.Classifier, interp resize.InterpolationFunction) *Pipeline {
	metadata := classifier.Metadata()
	return &Pipeline{
		classifier: classifier,
		labels:     metadata.Classes,
		pre: Preprocessor{
			Size:   metadata.ImageSize,
			Layout: metadata.Layout,
			Interp: interp,
		},
		inputLen: metadata.InputLen(),
	}
}

func (p *Pipeline) Labels() []string {
	return p.labels
}

func (p *Pipeline) Metadata() model.Metadata {
	return p.classifier.Metadata()
}

func (p *Pipeline) Preprocessor() Preprocessor {
	return p.pre
}

// PredictBytes decodes raw and classifies it. Decode failures wrap ErrDecode and never reach the classifier.
func (p *Pipeline) PredictBytes(raw []byte) (Result, error) {
	img, _, err := Decode(raw)
	if err != nil {
		return Result{}, err
	}
	return p.PredictImage(img)
}

func (p *Pipeline) PredictImage(img image.Image) (Result, error) {
	return p.PredictTensor(p.pre.Tensor(img))
}

// PredictTensor classifies an already preprocessed tensor.
func (p *Pipeline) PredictTensor(tensor []float32) (Result, error) {
	if p.inputLen > 0 && len(tensor) != p.inputLen {
		return Result{}, fmt.Errorf("%w: expected %d values, got %d", ErrInput, p.inputLen, len(tensor))
	}

	scores, err := p.classifier.Run(tensor)
	if err != nil {
		return Result{}, err
	}
	index, err := Argmax(scores)
	if err != nil {
		return Result{}, err
	}

	label, ok := LabelFor(index, p.labels)
	if !ok {
		slog.Warn("predicted class index outside label set",
			"index", index, "labels", len(p.labels), "scores", len(scores))
	}
	return Result{Label: label, Index: index}, nil
}

// Predict runs the whole pipeline once for an explicit label set and resolution,
// using the classifier's layout and bicubic resizing.
func Predict(raw []byte, classifier model.Classifier, labels []string, resolution int) (string, error) {
	layout := classifier.Metadata().Layout
	p := &Pipeline{
		classifier: classifier,
		labels:     labels,
		pre:        Preprocessor{Size: resolution, Layout: layout, Interp: resize.Bicubic},
		inputLen:   resolution * resolution * channelCount,
	}
	result, err := p.PredictBytes(raw)
	if err != nil {
		return "", err
	}
	return result.Label, nil
}
