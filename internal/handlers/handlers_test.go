package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/leaf-api/internal/inference"
	"github.com/Brownie44l1/leaf-api/internal/model"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubClassifier struct {
	scores   []float32
	err      error
	metadata model.Metadata
}

func (s *stubClassifier) Run(input []float32) ([]float32, error) { return s.scores, s.err }
func (s *stubClassifier) Metadata() model.Metadata               { return s.metadata }
func (s *stubClassifier) Close()                                 {}

type mockProvider struct {
	classifier model.Classifier
	err        error
	calls      int
}

func (m *mockProvider) Classifier(ctx context.Context) (model.Classifier, error) {
	m.calls++
	return m.classifier, m.err
}

func (m *mockProvider) Loaded() bool { return m.classifier != nil && m.err == nil }

type mockReporter struct {
	GenerateFunc        func(ctx context.Context, label string, image []byte, mimeType string) (string, error)
	RecommendationsFunc func(ctx context.Context, label string) (string, error)
	InfoFunc            func(ctx context.Context, label string) (string, error)
}

func (m *mockReporter) Generate(ctx context.Context, label string, image []byte, mimeType string) (string, error) {
	return m.GenerateFunc(ctx, label, image, mimeType)
}

func (m *mockReporter) Recommendations(ctx context.Context, label string) (string, error) {
	if m.RecommendationsFunc == nil {
		return "**3. Recommended Treatments & Management**", nil
	}
	return m.RecommendationsFunc(ctx, label)
}

func (m *mockReporter) Info(ctx context.Context, label string) (string, error) {
	return m.InfoFunc(ctx, label)
}

func newClassifier(classes []string, scores ...float32) *stubClassifier {
	md := model.Metadata{Version: "v1", Classes: classes, ImageSize: 4, Layout: model.LayoutNHWC}
	md.InputShape = md.ExpectedInputShape()
	return &stubClassifier{scores: scores, metadata: md}
}

func leafPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 9))
	for y := 0; y < 9; y++ {
		for x := 0; x < 6; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 30, G: uint8(100 + 10*y), B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// createMultipartRequest builds a multipart request for path with one file field.
func createMultipartRequest(t *testing.T, path, fieldName, fileName string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = io.Copy(part, bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	router := NewRouter(NewHandler(&mockProvider{err: model.ErrLoad}, resize.Bicubic, nil))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, HealthResponse{Status: "healthy", ModelLoaded: false}, decodeBody[HealthResponse](t, w))
}

func TestPredictFromImage(t *testing.T) {
	loadErr := fmt.Errorf("%w: %w", model.ErrLoad, model.ErrArtifactFetch)

	tests := []struct {
		name           string
		provider       *mockProvider
		request        func(t *testing.T) *http.Request
		expectedStatus int
		expectedClass  string
		expectedError  string
		providerCalled bool
	}{
		{
			name:     "success",
			provider: &mockProvider{classifier: newClassifier([]string{"A", "B", "C"}, 0.1, 0.7, 0.2)},
			request: func(t *testing.T) *http.Request {
				return createMultipartRequest(t, "/predict/image", "image", "leaf.png", leafPNG(t))
			},
			expectedStatus: http.StatusOK,
			expectedClass:  "B",
			providerCalled: true,
		},
		{
			name:     "index outside label set",
			provider: &mockProvider{classifier: newClassifier([]string{"A", "B"}, 0.1, 0.2, 0.7)},
			request: func(t *testing.T) *http.Request {
				return createMultipartRequest(t, "/predict/image", "image", "leaf.png", leafPNG(t))
			},
			expectedStatus: http.StatusOK,
			expectedClass:  inference.Unknown,
			providerCalled: true,
		},
		{
			name:     "not an image",
			provider: &mockProvider{classifier: newClassifier([]string{"A"}, 1)},
			request: func(t *testing.T) *http.Request {
				return createMultipartRequest(t, "/predict/image", "image", "leaf.png", []byte("GIF89a?"))
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "re-upload",
		},
		{
			name:     "wrong field name",
			provider: &mockProvider{classifier: newClassifier([]string{"A"}, 1)},
			request: func(t *testing.T) *http.Request {
				return createMultipartRequest(t, "/predict/image", "file", "leaf.png", leafPNG(t))
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "No image file provided",
		},
		{
			name:     "model unavailable",
			provider: &mockProvider{err: loadErr},
			request: func(t *testing.T) *http.Request {
				return createMultipartRequest(t, "/predict/image", "image", "leaf.png", leafPNG(t))
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "Model is not available",
			providerCalled: true,
		},
		{
			name: "inference error",
			provider: &mockProvider{classifier: &stubClassifier{
				err:      errors.New("onnx: run failed"),
				metadata: newClassifier([]string{"A"}).metadata,
			}},
			request: func(t *testing.T) *http.Request {
				return createMultipartRequest(t, "/predict/image", "image", "leaf.png", leafPNG(t))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "Prediction failed",
			providerCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(tt.provider, resize.Bicubic, nil))

			w := serve(router, tt.request(t))

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedClass != "" {
				assert.Equal(t, tt.expectedClass, decodeBody[PredictionResponse](t, w).Class)
			}
			if tt.expectedError != "" {
				assert.Contains(t, decodeBody[ErrorResponse](t, w).Error, tt.expectedError)
			}
			assert.Equal(t, tt.providerCalled, tt.provider.calls > 0)
		})
	}
}

func TestPredict_RawTensor(t *testing.T) {
	provider := &mockProvider{classifier: newClassifier([]string{"A", "B", "C"}, 0.5, 0.2, 0.5)}
	router := NewRouter(NewHandler(provider, resize.Bicubic, nil))

	body, err := json.Marshal(PredictionRequest{Image: make([]float32, 4*4*3)})
	require.NoError(t, err)
	w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A", decodeBody[PredictionResponse](t, w).Class)

	body, err = json.Marshal(PredictionRequest{Image: make([]float32, 10)})
	require.NoError(t, err)
	w = serve(router, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Error, "expected 48 values, got 10")

	w = serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredict_RawTensorBodyIsCapped(t *testing.T) {
	provider := &mockProvider{classifier: newClassifier([]string{"A", "B", "C"}, 0.5, 0.2, 0.5)}
	router := NewRouter(NewHandler(provider, resize.Bicubic, nil))

	// Far more values than the 4x4x3 input can need.
	oversized := `{"image":[` + strings.Repeat("0.123456789,", 1000) + `0]}`
	require.Greater(t, int64(len(oversized)), tensorBodyLimit(4*4*3))

	w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(oversized)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Error, "too large")
}

func TestLabels(t *testing.T) {
	provider := &mockProvider{classifier: newClassifier([]string{"Apple___Black_rot", "Apple___Healthy"})}
	router := NewRouter(NewHandler(provider, resize.Bicubic, nil))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/labels", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, LabelsResponse{
		Version:   "v1",
		ImageSize: 4,
		Layout:    "NHWC",
		Classes:   []string{"Apple___Black_rot", "Apple___Healthy"},
	}, decodeBody[LabelsResponse](t, w))

	router = NewRouter(NewHandler(&mockProvider{err: model.ErrLoad}, resize.Bicubic, nil))
	w = serve(router, httptest.NewRequest(http.MethodGet, "/labels", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReport(t *testing.T) {
	provider := &mockProvider{classifier: newClassifier([]string{"Corn___Common_rust", "Corn___Healthy"}, 0.9, 0.1)}

	t.Run("not configured", func(t *testing.T) {
		router := NewRouter(NewHandler(provider, resize.Bicubic, nil))
		w := serve(router, createMultipartRequest(t, "/report", "image", "leaf.png", leafPNG(t)))
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	t.Run("success", func(t *testing.T) {
		var gotLabel, gotMime string
		reporter := &mockReporter{GenerateFunc: func(ctx context.Context, label string, image []byte, mimeType string) (string, error) {
			gotLabel, gotMime = label, mimeType
			return "**1. Diagnostic Summary**", nil
		}}
		router := NewRouter(NewHandler(provider, resize.Bicubic, reporter))

		w := serve(router, createMultipartRequest(t, "/report", "image", "leaf.png", leafPNG(t)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, ReportResponse{
			Class:           "Corn___Common_rust",
			Report:          "**1. Diagnostic Summary**",
			Recommendations: "**3. Recommended Treatments & Management**",
		}, decodeBody[ReportResponse](t, w))
		assert.Equal(t, "Corn___Common_rust", gotLabel)
		assert.Equal(t, "image/png", gotMime)
	})

	t.Run("recommendations use the predicted label", func(t *testing.T) {
		var gotLabel string
		reporter := &mockReporter{
			GenerateFunc: func(ctx context.Context, label string, image []byte, mimeType string) (string, error) {
				return "summary", nil
			},
			RecommendationsFunc: func(ctx context.Context, label string) (string, error) {
				gotLabel = label
				return "", errors.New("deadline exceeded")
			},
		}
		router := NewRouter(NewHandler(provider, resize.Bicubic, reporter))

		w := serve(router, createMultipartRequest(t, "/report", "image", "leaf.png", leafPNG(t)))

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "Corn___Common_rust", gotLabel)
	})

	t.Run("generator fails", func(t *testing.T) {
		reporter := &mockReporter{GenerateFunc: func(ctx context.Context, label string, image []byte, mimeType string) (string, error) {
			return "", errors.New("quota exceeded")
		}}
		router := NewRouter(NewHandler(provider, resize.Bicubic, reporter))

		w := serve(router, createMultipartRequest(t, "/report", "image", "leaf.png", leafPNG(t)))

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestInfo(t *testing.T) {
	provider := &mockProvider{classifier: newClassifier([]string{"Corn___Common_rust", "Corn___Healthy"})}

	t.Run("not configured", func(t *testing.T) {
		router := NewRouter(NewHandler(provider, resize.Bicubic, nil))
		w := serve(router, httptest.NewRequest(http.MethodGet, "/labels/Corn___Healthy/info", nil))
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	var gotLabel string
	reporter := &mockReporter{InfoFunc: func(ctx context.Context, label string) (string, error) {
		gotLabel = label
		if label == "Corn___Healthy" {
			return "", errors.New("quota exceeded")
		}
		return "### Overview of Common rust (Corn)", nil
	}}

	tests := []struct {
		name           string
		provider       *mockProvider
		class          string
		expectedStatus int
		expectedInfo   string
	}{
		{name: "success", provider: provider, class: "Corn___Common_rust", expectedStatus: http.StatusOK, expectedInfo: "### Overview of Common rust (Corn)"},
		{name: "unknown class", provider: provider, class: "Tomato___Leaf_Mold", expectedStatus: http.StatusNotFound},
		{name: "generator fails", provider: provider, class: "Corn___Healthy", expectedStatus: http.StatusBadGateway},
		{name: "model unavailable", provider: &mockProvider{err: model.ErrLoad}, class: "Corn___Healthy", expectedStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLabel = ""
			router := NewRouter(NewHandler(tt.provider, resize.Bicubic, reporter))

			w := serve(router, httptest.NewRequest(http.MethodGet, "/labels/"+tt.class+"/info", nil))

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedInfo != "" {
				assert.Equal(t, InfoResponse{Class: tt.class, Info: tt.expectedInfo}, decodeBody[InfoResponse](t, w))
				assert.Equal(t, tt.class, gotLabel)
			}
			if tt.expectedStatus == http.StatusNotFound {
				assert.Empty(t, gotLabel, "unknown classes never reach the generator")
			}
		})
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	router := NewRouter(NewHandler(&mockProvider{}, resize.Bicubic, nil))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "3f1c5a52-8a3e-4b7e-9a57-6f2f5d1c0b11")
	w = serve(router, req)
	assert.Equal(t, "3f1c5a52-8a3e-4b7e-9a57-6f2f5d1c0b11", w.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "not-a-uuid")
	w = serve(router, req)
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(requestIDHeader))

	w = serve(router, httptest.NewRequest(http.MethodOptions, "/predict/image", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
