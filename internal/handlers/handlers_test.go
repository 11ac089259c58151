package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Brownie44l1/oct-api/internal/imageio"
	"github.com/Brownie44l1/oct-api/internal/metrics"
	"github.com/Brownie44l1/oct-api/internal/model"
	"github.com/Brownie44l1/oct-api/internal/pipeline"
)

const testUploadLimit = 4096

type stubClassifier struct{}

func (stubClassifier) Predict(model.Input) ([]float32, error) {
	return []float32{0.1, 3, 0.2, 0.4}, nil
}

func (stubClassifier) ActivationsAndGradients(_ model.Input, _ int) (*model.FeatureMap, *model.FeatureMap, error) {
	act := model.NewFeatureMap(4, 4, 2)
	grad := model.NewFeatureMap(4, 4, 2)
	for i := range act.Data {
		act.Data[i] = float32(i % 3)
		grad.Data[i] = 0.5
	}
	return act, grad, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	m := metrics.New(logger)
	p, err := pipeline.New(stubClassifier{}, model.DefaultMetadata(), logger, m)
	require.NoError(t, err)

	return NewRouter(NewHandler(p, testUploadLimit, logger), m, logger)
}

func pngBytes(t *testing.T, w, h int, noisy bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	r := rand.New(rand.NewSource(3))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{100, 110, 120, 255}
			if noisy {
				c = color.NRGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	data, err := imageio.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func multipartRequest(t *testing.T, path, field string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, "scan.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := serve(newTestRouter(t), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := serve(newTestRouter(t), req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestPredictFromImage(t *testing.T) {
	w := serve(newTestRouter(t), multipartRequest(t, "/predict/image", "image", pngBytes(t, 60, 50, false)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "DME", resp.Class)
	assert.Len(t, resp.Probabilities, 4)
	assert.Len(t, resp.Predictions, 4)
	assert.InDelta(t, resp.Predictions["DME"], resp.Confidence, 1e-6)
	assert.True(t, strings.HasPrefix(resp.OriginalImage, "data:image/png;base64,"))
	assert.True(t, strings.HasPrefix(resp.OverlayImage, "data:image/png;base64,"))
}

func TestPredictFromImageErrors(t *testing.T) {
	r := newTestRouter(t)

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"wrong field", multipartRequest(t, "/predict/image", "file", pngBytes(t, 10, 10, false)), http.StatusBadRequest},
		{"not an image", multipartRequest(t, "/predict/image", "image", []byte("hello, world")), http.StatusUnsupportedMediaType},
		{"truncated png", multipartRequest(t, "/predict/image", "image", pngBytes(t, 40, 40, true)[:200]), http.StatusBadRequest},
		{"too large", multipartRequest(t, "/predict/image", "image", pngBytes(t, 64, 64, true)), http.StatusRequestEntityTooLarge},
		{"too small", multipartRequest(t, "/predict/image", "image", pngBytes(t, 1, 1, false)), http.StatusBadRequest},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := serve(r, c.req)
			assert.Equal(t, c.status, w.Code, w.Body.String())

			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestPredictJSON(t *testing.T) {
	body, err := json.Marshal(PredictionRequest{Image: pngBytes(t, 60, 50, false)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := serve(newTestRouter(t), req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "DME", resp.Class)
}

func TestPredictJSONInvalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := serve(newTestRouter(t), req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndexPage(t *testing.T) {
	w := serve(newTestRouter(t), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="image"`)
}

func TestPredictPage(t *testing.T) {
	w := serve(newTestRouter(t), multipartRequest(t, "/predict/page", "image", pngBytes(t, 60, 50, false)))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "Prediction: DME")
	assert.Contains(t, body, `src="data:image/png;base64,`)
}

func TestPredictPageShowsError(t *testing.T) {
	w := serve(newTestRouter(t), multipartRequest(t, "/predict/page", "image", []byte("hello, world")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Contains(t, w.Body.String(), "Unsupported file type")
}

func TestMethodNotAllowed(t *testing.T) {
	w := serve(newTestRouter(t), httptest.NewRequest(http.MethodGet, "/predict/image", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
