package handlers

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cxrscan/internal/apperr"
	"cxrscan/internal/history"
	"cxrscan/internal/pipeline"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

type Handler struct {
	pipe      *pipeline.Pipeline
	hist      history.Store
	maxUpload int64
	log       *zap.Logger
}

func New(pipe *pipeline.Pipeline, hist history.Store, maxUpload int64, log *zap.Logger) *Handler {
	return &Handler{pipe: pipe, hist: hist, maxUpload: maxUpload, log: log}
}

func (h *Handler) Register(r *gin.Engine) {
	r.Use(cors())
	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.POST("/predict", h.Predict)
	api.GET("/history", h.History)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Predict accepts a multipart upload under "file", runs the pipeline, and
// maps the core error taxonomy onto HTTP statuses. A gate rejection is a
// 400 carrying the validation confidence; an explanation failure still
// returns the prediction, just with a null gradcam field.
func (h *Handler) Predict(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	if fileHeader.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":    "file too large",
			"max_size": fmt.Sprintf("%dMB", h.maxUpload>>20),
		})
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type, allowed: png, jpg, jpeg"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image format, supported: JPEG, PNG"})
		return
	}

	opts := pipeline.DefaultOptions()
	if raw := c.PostForm("target_class"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_class must be a non-negative integer"})
			return
		}
		opts.TargetClass = idx
	}

	res, err := h.pipe.Process(img, opts)
	if err != nil {
		var inputErr *apperr.InputError
		if errors.As(err, &inputErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unusable image"})
			return
		}
		h.log.Error("prediction request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred during prediction"})
		return
	}

	if !res.Validation.IsXray {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":                 "the uploaded image does not appear to be a chest x-ray",
			"validation_confidence": res.Validation.Confidence,
			"suggestion":            "please upload a valid chest x-ray image",
		})
		return
	}

	var gradcamURI any
	if res.Overlay != nil {
		gradcamURI = res.Overlay.DataURI()
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"validation": res.Validation,
		"prediction": gin.H{
			"predicted_class": res.Prediction.Label,
			"confidence":      res.Prediction.Confidence,
			"all_predictions": res.Prediction.AllPredictions(),
		},
		"gradcam":    gradcamURI,
		"history_id": res.EntryID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) History(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := h.hist.List(limit)
	if err != nil {
		h.log.Error("history list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error retrieving history"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"history": entries,
		"count":   len(entries),
	})
}
