// Package handlers exposes the classification pipeline over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/leaf-api/internal/inference"
	"github.com/Brownie44l1/leaf-api/internal/model"
	"github.com/Brownie44l1/leaf-api/internal/report"
)

// MaxUploadSize caps image uploads at 10MB.
const MaxUploadSize = 10 << 20

// maxFloatJSONBytes bounds one float32 in JSON, separator included.
const maxFloatJSONBytes = 24

// tensorBodyLimit caps a /predict body holding n floats.
func tensorBodyLimit(n int) int64 {
	return int64(n)*maxFloatJSONBytes + 1<<10
}

// ClassifierProvider hands out the process-wide classifier, loading it on first use.
type ClassifierProvider interface {
	Classifier(ctx context.Context) (model.Classifier, error)
	Loaded() bool
}

type Handler struct {
	provider ClassifierProvider
	interp   resize.InterpolationFunction
	reporter report.Generator
}

// NewHandler creates a Handler. reporter may be nil, which disables /report.
func NewHandler(provider ClassifierProvider, interp resize.InterpolationFunction, reporter report.Generator) *Handler {
	return &Handler{
		provider: provider,
		interp:   interp,
		reporter: reporter,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", ModelLoaded: h.provider.Loaded()})
}

// Labels lists the classes of the loaded artifact in index order.
func (h *Handler) Labels(c *gin.Context) {
	pipeline, err := h.pipeline(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	metadata := pipeline.Metadata()
	c.JSON(http.StatusOK, LabelsResponse{
		Version:   metadata.Version,
		ImageSize: metadata.ImageSize,
		Layout:    string(metadata.Layout),
		Classes:   metadata.Classes,
	})
}

// Predict classifies a tensor that the caller already preprocessed.
// The body is capped to what the model's input size can need.
func (h *Handler) Predict(c *gin.Context) {
	pipeline, err := h.pipeline(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, tensorBodyLimit(pipeline.Metadata().InputLen()))

	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("tensor body too large", "limit", tooLarge.Limit, "request_id", RequestID(c))
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON"})
		return
	}

	result, err := pipeline.PredictTensor(req.Image)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logResult(c, result)
	c.JSON(http.StatusOK, PredictionResponse{Class: result.Label})
}

// PredictFromImage classifies the multipart upload in the "image" field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	raw, ok := h.readUpload(c)
	if !ok {
		return
	}
	result, err := h.classify(c, raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, PredictionResponse{Class: result.Label})
}

// Report classifies the upload and asks the report generator to explain the result.
func (h *Handler) Report(c *gin.Context) {
	if h.reporter == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "Reports are not configured"})
		return
	}
	raw, ok := h.readUpload(c)
	if !ok {
		return
	}
	result, err := h.classify(c, raw)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	text, err := h.reporter.Generate(ctx, result.Label, raw, http.DetectContentType(raw))
	if err != nil {
		h.reportFailed(c, err, result.Label)
		return
	}
	recommendations, err := h.reporter.Recommendations(ctx, result.Label)
	if err != nil {
		h.reportFailed(c, err, result.Label)
		return
	}
	c.JSON(http.StatusOK, ReportResponse{Class: result.Label, Report: text, Recommendations: recommendations})
}

// Info returns the information sheet for one of the artifact's classes.
func (h *Handler) Info(c *gin.Context) {
	if h.reporter == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "Reports are not configured"})
		return
	}
	pipeline, err := h.pipeline(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	class := c.Param("class")
	if !slices.Contains(pipeline.Labels(), class) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown class: " + class})
		return
	}

	text, err := h.reporter.Info(c.Request.Context(), class)
	if err != nil {
		h.reportFailed(c, err, class)
		return
	}
	c.JSON(http.StatusOK, InfoResponse{Class: class, Info: text})
}

func (h *Handler) reportFailed(c *gin.Context, err error, class string) {
	slog.Error("report generation failed", "error", err, "request_id", RequestID(c), "class", class)
	c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Report generation failed"})
}

func (h *Handler) readUpload(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	header, err := c.FormFile("image")
	if err != nil {
		slog.Warn("no image in upload", "error", err, "request_id", RequestID(c), "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "No image file provided. Use 'image' as the form field name (max 10MB)"})
		return nil, false
	}
	file, err := header.Open()
	if err != nil {
		slog.Error("failed to open upload", "error", err, "request_id", RequestID(c))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read image"})
		return nil, false
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		slog.Error("failed to read upload", "error", err, "request_id", RequestID(c))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read image"})
		return nil, false
	}
	slog.Info("received image", "request_id", RequestID(c), "filename", header.Filename, "size", header.Size)
	return raw, true
}

// classify decodes before touching the model, so a bad upload is rejected even when the model is unavailable.
func (h *Handler) classify(c *gin.Context, raw []byte) (inference.Result, error) {
	img, format, err := inference.Decode(raw)
	if err != nil {
		return inference.Result{}, err
	}
	slog.Debug("decoded image", "request_id", RequestID(c), "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	pipeline, err := h.pipeline(c)
	if err != nil {
		return inference.Result{}, err
	}
	result, err := pipeline.PredictImage(img)
	if err != nil {
		return inference.Result{}, err
	}
	h.logResult(c, result)
	return result, nil
}

func (h *Handler) pipeline(c *gin.Context) (*inference.Pipeline, error) {
	classifier, err := h.provider.Classifier(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return inference.NewPipeline(classifier, h.interp), nil
}

func (h *Handler) logResult(c *gin.Context, result inference.Result) {
	slog.Info("prediction", "request_id", RequestID(c), "class", result.Label, "index", result.Index)
}

func (h *Handler) fail(c *gin.Context, err error) {
	id := RequestID(c)
	switch {
	case errors.Is(err, inference.ErrDecode):
		slog.Warn("rejected upload", "error", err, "request_id", id)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid image format. Supported: JPEG, PNG. Please re-upload"})
	case errors.Is(err, inference.ErrInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrLoad):
		slog.Error("model unavailable", "error", err, "request_id", id)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Model is not available"})
	default:
		slog.Error("prediction failed", "error", err, "request_id", id)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Prediction failed"})
	}
}
