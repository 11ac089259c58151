package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/oct-api/internal/imageio"
	"github.com/Brownie44l1/oct-api/internal/pipeline"
	"github.com/Brownie44l1/oct-api/internal/preprocess"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	// room for multipart headers around the file itself
	multipartOverhead = 1 << 20
)

type Handler struct {
	pipeline       *pipeline.Pipeline
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewHandler(p *pipeline.Pipeline, maxUploadBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline:       p,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.Named("http"),
	}
}

// Templates parses the embedded HTML pages.
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Predict accepts a JSON body with a base64 encoded scan.
func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxUploadBytes+multipartOverhead)

	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(c, imageio.ErrTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid JSON"})
		return
	}

	result, err := h.run(c, req.Image)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPredictionResponse(result))
}

// PredictFromImage accepts a multipart upload in the "image" field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	data, err := h.readUpload(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.run(c, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPredictionResponse(result))
}

func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", indexPage{MaxUploadMB: h.maxUploadBytes >> 20})
}

// PredictPage is the form target of the upload page.
func (h *Handler) PredictPage(c *gin.Context) {
	data, err := h.readUpload(c)
	if err == nil {
		var result *pipeline.Result
		result, err = h.run(c, data)
		if err == nil {
			c.HTML(http.StatusOK, "result.html", resultPage{
				Class:         result.Class,
				Confidence:    result.Confidence,
				Probabilities: result.Probabilities,
				OriginalImage: template.URL(imageio.DataURI(result.Original)),
				OverlayImage:  template.URL(imageio.DataURI(result.Overlay)),
			})
			return
		}
	}

	status, message := h.describe(c, err)
	c.HTML(status, "index.html", indexPage{Error: message, MaxUploadMB: h.maxUploadBytes >> 20})
}

func (h *Handler) readUpload(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	header, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, imageio.ErrTooLarge
		}
		return nil, errMissingFile
	}

	file, err := header.Open()
	if err != nil {
		return nil, errMissingFile
	}
	defer file.Close()

	h.logger.Debug("received file",
		zap.String(requestIDKey, c.GetString(requestIDKey)),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
	)

	// one byte past the limit is enough to reject
	return io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
}

// run validates, decodes and classifies one upload.
func (h *Handler) run(c *gin.Context, data []byte) (*pipeline.Result, error) {
	if _, err := imageio.Validate(data, h.maxUploadBytes); err != nil {
		return nil, err
	}

	img, format, err := imageio.Decode(data)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("decoded image",
		zap.String(requestIDKey, c.GetString(requestIDKey)),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
	)

	return h.pipeline.Run(c.Request.Context(), img)
}

var errMissingFile = errors.New("no image file provided")

// describe maps an error to a status code and a message safe to show users.
func (h *Handler) describe(c *gin.Context, err error) (int, string) {
	switch {
	case errors.Is(err, errMissingFile):
		return http.StatusBadRequest, "No image file provided. Use 'image' as the form field name"
	case errors.Is(err, imageio.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "Image is too large"
	case errors.Is(err, imageio.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "Unsupported file type. Supported: PNG, JPEG, BMP, TIFF, WebP"
	case errors.Is(err, imageio.ErrDecode):
		return http.StatusBadRequest, "Invalid image format. Supported: PNG, JPEG, BMP, TIFF, WebP"
	case errors.Is(err, preprocess.ErrImageTooSmall):
		return http.StatusBadRequest, "Image is too small"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled"
	}

	h.logger.Error("prediction failed",
		zap.String(requestIDKey, c.GetString(requestIDKey)),
		zap.Error(err),
	)
	return http.StatusInternalServerError, "Prediction failed"
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, message := h.describe(c, err)
	c.JSON(status, errorResponse{Error: message})
}

func newPredictionResponse(r *pipeline.Result) PredictionResponse {
	predictions := make(map[string]float32, len(r.Probabilities))
	for _, p := range r.Probabilities {
		predictions[p.Class] = p.Probability
	}
	return PredictionResponse{
		Class:         r.Class,
		Confidence:    r.Confidence,
		Predictions:   predictions,
		Probabilities: r.Probabilities,
		OriginalImage: imageio.DataURI(r.Original),
		OverlayImage:  imageio.DataURI(r.Overlay),
	}
}

// RequestID tags every request with an id, reusing the caller's if given.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String(requestIDKey, c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
