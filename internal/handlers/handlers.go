package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/livecheck/internal/auth"
	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/repository"
	"github.com/example/livecheck/internal/usecase"
)

// MaxUploadSize limits each uploaded frame.
const MaxUploadSize = 10 << 20

// formOverhead covers multipart boundaries and part headers on top of the frames.
const formOverhead = 1 << 20

const (
	framesField = "frames"
	imageField  = "image"
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// LivenessService is the behaviour the handlers need from the use case layer.
type LivenessService interface {
	Check(ctx context.Context, userID string, frames [][]byte) (*usecase.Outcome, error)
	AnalyzeMovement(ctx context.Context, frames [][]byte) (liveness.MotionResult, error)
	DetectFaces(ctx context.Context, data []byte) ([]image.Rectangle, error)
	Classify(ctx context.Context, attrs liveness.FaceAttributes) liveness.Verdict
	GetResult(ctx context.Context, userID, requestID string) (*repository.LivenessCheck, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	History(ctx context.Context, userID string, limit int) ([]*repository.LivenessCheck, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

// RegisterRoutes wires the HTTP handlers to the Gin router. maxFrames bounds the
// parts accepted per upload and, with MaxUploadSize, the request body.
func RegisterRoutes(router *gin.Engine, svc LivenessService, authMiddleware gin.HandlerFunc, maxFrames int) {
	if maxFrames < 1 {
		maxFrames = 1
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", authMiddleware)

	v1.POST("/liveness", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		frames, err := readUploads(c, framesField, maxFrames)
		if err != nil {
			respondError(c, err)
			return
		}

		outcome, err := svc.Check(c.Request.Context(), userID, frames)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":     outcome.RequestID,
			"is_live":        outcome.Verdict.IsLive,
			"confidence":     outcome.Verdict.Confidence,
			"reason":         outcome.Verdict.Reason,
			"gate":           outcome.Gate,
			"frame_count":    outcome.FrameCount,
			"faces_detected": outcome.FacesDetected,
		})
	})

	v1.POST("/analyze-movement", func(c *gin.Context) {
		frames, err := readUploads(c, framesField, maxFrames)
		if err != nil {
			respondError(c, err)
			return
		}

		result, err := svc.AnalyzeMovement(c.Request.Context(), frames)
		if err != nil {
			respondError(c, err)
			return
		}
		if !result.Sufficient {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient movement detected", "motion": result})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "sufficient movement detected", "motion": result})
	})

	v1.POST("/detect-faces", func(c *gin.Context) {
		images, err := readUploads(c, imageField, 1)
		if err != nil {
			respondError(c, err)
			return
		}

		faces, err := svc.DetectFaces(c.Request.Context(), images[0])
		if err != nil {
			respondError(c, err)
			return
		}
		if len(faces) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no faces detected"})
			return
		}

		boxes := make([][4]int, 0, len(faces))
		for _, f := range faces {
			boxes = append(boxes, [4]int{f.Min.X, f.Min.Y, f.Dx(), f.Dy()})
		}
		c.JSON(http.StatusOK, gin.H{"message": "face(s) detected", "faces": boxes})
	})

	v1.POST("/classify", func(c *gin.Context) {
		var attrs liveness.FaceAttributes
		if err := c.ShouldBindJSON(&attrs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face attributes"})
			return
		}
		c.JSON(http.StatusOK, svc.Classify(c.Request.Context(), attrs))
	})

	v1.GET("/result/:id", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		check, err := svc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			respondLookupError(c, requestID, err)
			return
		}

		c.JSON(http.StatusOK, checkResponse(check))
	})

	v1.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		requestID := c.Param("id")
		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, requestID)
		if err != nil {
			respondLookupError(c, requestID, err)
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, check := range report.Duplicates {
			duplicates = append(duplicates, checkResponse(check))
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    checkResponse(report.Request),
			"duplicates": duplicates,
		})
	})

	v1.GET("/history", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		limit := 20
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		checks, err := svc.History(c.Request.Context(), userID, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		items := make([]gin.H, 0, len(checks))
		for _, check := range checks {
			items = append(items, checkResponse(check))
		}
		c.JSON(http.StatusOK, gin.H{"checks": items})
	})

	v1.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func checkResponse(check *repository.LivenessCheck) gin.H {
	return gin.H{
		"request_id":     check.RequestID,
		"user_id":        check.UserID,
		"is_live":        check.IsLive,
		"confidence":     check.Confidence,
		"reason":         check.Reason,
		"gate_passed":    check.GatePassed,
		"changed_pixels": check.ChangedPixels,
		"blink_detected": check.BlinkDetected,
		"sha1_hash":      check.SHA1Hash,
		"created_at":     check.CreatedAt,
	}
}

func readUploads(c *gin.Context, field string, maxParts int) ([][]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(maxParts)*MaxUploadSize+formOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &uploadError{status: http.StatusRequestEntityTooLarge, message: "upload too large"}
		}
		return nil, &uploadError{status: http.StatusBadRequest, message: "multipart form is required"}
	}

	files := form.File[field]
	if len(files) == 0 {
		return nil, &uploadError{status: http.StatusBadRequest, message: fmt.Sprintf("%s file is required", field)}
	}
	if len(files) > maxParts {
		return nil, &uploadError{status: http.StatusBadRequest, message: fmt.Sprintf("at most %d %s files are allowed", maxParts, field)}
	}

	data := make([][]byte, 0, len(files))
	for _, file := range files {
		if file.Size > MaxUploadSize {
			return nil, &uploadError{status: http.StatusRequestEntityTooLarge, message: fmt.Sprintf("%s exceeds %d bytes", file.Filename, MaxUploadSize)}
		}
		content, err := readFile(file)
		if err != nil {
			return nil, err
		}
		data = append(data, content)
	}
	return data, nil
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, &uploadError{status: http.StatusBadRequest, message: "unable to open upload"}
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return nil, &uploadError{status: http.StatusInternalServerError, message: "failed to read upload"}
	}

	contentType := strings.TrimSpace(strings.Split(file.Header.Get("Content-Type"), ";")[0])
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(content)
	}
	if !allowedContentTypes[strings.ToLower(contentType)] {
		return nil, &uploadError{status: http.StatusUnsupportedMediaType, message: "only image/jpeg and image/png are supported"}
	}
	return content, nil
}

func respondLookupError(c *gin.Context, requestID string, err error) {
	switch {
	case errors.Is(err, usecase.ErrStillProcessing):
		c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": "processing"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
	default:
		respondError(c, err)
	}
}

func respondError(c *gin.Context, err error) {
	var upErr *uploadError
	switch {
	case errors.As(err, &upErr):
		c.JSON(upErr.status, gin.H{"error": upErr.message})
	case errors.Is(err, usecase.ErrNoFrames),
		errors.Is(err, usecase.ErrTooManyFrames),
		errors.Is(err, liveness.ErrUnreadableFrame),
		errors.Is(err, liveness.ErrFrameSizeMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrFaceLocatorUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
