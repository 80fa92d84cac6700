package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/facewatch/internal/logging"
	"github.com/example/facewatch/internal/resultlog"
	"github.com/example/facewatch/internal/usecase"
)

// MaxUploadSize bounds request bodies for identification and enrollment.
const MaxUploadSize = 10 << 20

// RecognitionService is the use case surface the handlers need.
type RecognitionService interface {
	Identify(ctx context.Context, in usecase.ImageInput) (*resultlog.DetectionResult, error)
	Enroll(ctx context.Context, name string, in usecase.ImageInput) (*usecase.EnrollResult, error)
	Dashboard(limit int) *usecase.DashboardSummary
	Health() usecase.HealthStatus
}

type imageRequest struct {
	Image string `json:"image"`
	Name  string `json:"name"`
}

// requestError is a rejection decided by the HTTP layer itself.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc RecognitionService, logger *zap.Logger) {
	logger = logger.Named("handlers")

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", dashboardHTML)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Health())
	})

	router.POST("/identify", func(c *gin.Context) {
		req, err := readImageRequest(c)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		result, err := svc.Identify(c.Request.Context(), req.input())
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     "success",
			"id":         result.ID,
			"result":     result.Result,
			"confidence": result.Confidence,
			"image_size": result.ImageSize,
			"timestamp":  result.Timestamp,
			"face_count": result.FaceCount,
			"faces":      result.Faces,
		})
	})

	router.POST("/add_face", func(c *gin.Context) {
		req, err := readImageRequest(c)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		if strings.TrimSpace(req.Name) == "" || (req.Image == "" && len(req.data) == 0) {
			respondError(c, logger, &requestError{status: http.StatusBadRequest, message: "Image and name required"})
			return
		}

		res, err := svc.Enroll(c.Request.Context(), req.Name, req.input())
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      "success",
			"message":     "Face '" + res.Name + "' added successfully",
			"name":        res.Name,
			"known_faces": res.KnownFaces,
		})
	})

	router.GET("/api/results", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				respondError(c, logger, &requestError{status: http.StatusBadRequest, message: "limit must be a positive integer"})
				return
			}
			limit = n
		}

		summary := svc.Dashboard(limit)
		c.JSON(http.StatusOK, gin.H{
			"status":               "success",
			"total":                summary.Total,
			"total_faces_detected": summary.TotalFacesDetected,
			"known_faces_count":    summary.KnownFacesCount,
			"known_faces":          summary.KnownFaces,
			"results":              summary.Results,
		})
	})
}

// parsedRequest is an upload in either of the accepted encodings.
type parsedRequest struct {
	imageRequest
	data []byte
}

func (r parsedRequest) input() usecase.ImageInput {
	return usecase.ImageInput{Data: r.data, Encoded: r.Image}
}

// readImageRequest accepts JSON {"image": base64, "name": ...} or a multipart
// form with an "image" file and an optional "name" field.
func readImageRequest(c *gin.Context) (parsedRequest, error) {
	var req parsedRequest
	if c.Request.ContentLength > MaxUploadSize {
		return req, tooLarge()
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("image")
		if err != nil {
			if isTooLarge(err) {
				return req, tooLarge()
			}
			return req, usecase.ErrNoImageProvided
		}
		if file.Size > MaxUploadSize {
			return req, tooLarge()
		}
		src, err := file.Open()
		if err != nil {
			return req, &requestError{status: http.StatusBadRequest, message: "unable to open image"}
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			return req, &requestError{status: http.StatusInternalServerError, message: "failed to read image"}
		}
		if mtype := mimetype.Detect(data); !strings.HasPrefix(mtype.String(), "image/") {
			return req, &requestError{status: http.StatusUnsupportedMediaType, message: "unsupported image type " + mtype.String()}
		}
		req.data = data
		req.Name = c.PostForm("name")
		return req, nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if isTooLarge(err) {
			return req, tooLarge()
		}
		return req, &requestError{status: http.StatusBadRequest, message: "failed to read request body"}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, usecase.ErrNoImageProvided
	}
	if err := json.Unmarshal(body, &req.imageRequest); err != nil {
		return req, &requestError{status: http.StatusBadRequest, message: "invalid JSON body"}
	}
	return req, nil
}

func tooLarge() error {
	return &requestError{status: http.StatusRequestEntityTooLarge, message: "image exceeds upload limit"}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		status = reqErr.status
	case usecase.IsClientError(err):
		status = http.StatusBadRequest
		message = clientMessage(err)
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("operation", logging.OperationOf(err)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"status": "error", "message": message})
}

// clientMessage returns the user-facing text of a client error without the
// operation and request id decorations.
func clientMessage(err error) string {
	for _, target := range []error{
		usecase.ErrNoImageProvided,
		usecase.ErrImageDecodeFailure,
		usecase.ErrNoFaceDetected,
		usecase.ErrMultipleFacesDetected,
		usecase.ErrInvalidName,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
