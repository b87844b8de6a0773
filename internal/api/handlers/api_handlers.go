package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"face-attendance/internal/api/middleware"
	"face-attendance/internal/core/models"
	"face-attendance/internal/core/processor"
	"face-attendance/internal/enrollment"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/recognition"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// maxBodyBytes bounds JSON bodies carrying base64 images.
const maxBodyBytes = 32 << 20

// Recognizer runs the recognition pipeline.
type Recognizer interface {
	Recognize(ctx context.Context, req recognition.Request) (*recognition.Result, error)
}

// StudentWriter enrolls and removes students.
type StudentWriter interface {
	Enroll(ctx context.Context, req enrollment.Request) (*models.Student, error)
	Remove(ctx context.Context, studentID string) error
}

// StudentLister lists the roster.
type StudentLister interface {
	ListStudents(ctx context.Context) ([]models.Student, error)
}

// AttendanceService queries and edits the ledger.
type AttendanceService interface {
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int64, error)
	Stats(ctx context.Context, filter models.AttendanceFilter) (models.AttendanceStats, error)
	Update(ctx context.Context, id uint, update models.AttendanceUpdate) (*models.AttendanceRecord, error)
	Delete(ctx context.Context, id uint) error
}

// PendingCounter reports queued collection operations.
type PendingCounter interface {
	CountPendingOperations(ctx context.Context) (int64, error)
}

// Deps are the collaborators of APIHandler. Providers, Pending and Pool are only used by the status endpoint and may be nil.
type Deps struct {
	Recognizer Recognizer
	Students   StudentWriter
	Roster     StudentLister
	Attendance AttendanceService
	Providers  *facerecognition.ProviderManager
	Pending    PendingCounter
	Pool       *processor.WorkerPool
}

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	Deps
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(deps Deps) *APIHandler {
	return &APIHandler{Deps: deps}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Erkennung
	router.POST("/recognize", h.Recognize)

	// Schüler
	router.POST("/enroll", h.Enroll)
	router.GET("/students", h.ListStudents)
	router.DELETE("/students/:studentId", h.DeleteStudent)

	// Anwesenheit
	router.GET("/attendance", h.ListAttendance)
	router.GET("/attendance/stats", h.AttendanceStats)
	router.PUT("/attendance/:id", h.UpdateAttendance)
	router.DELETE("/attendance/:id", h.DeleteAttendance)

	// System
	router.GET("/status", h.GetStatus)
}

// respondError maps err to a status code and a localized message.
func respondError(c *gin.Context, err error) {
	status, messageID := http.StatusInternalServerError, "ErrInternal"
	switch {
	case errors.Is(err, recognition.ErrAborted):
		status, messageID = http.StatusRequestTimeout, "ErrAborted"
	case errors.Is(err, models.ErrInvalidImage):
		status, messageID = http.StatusBadRequest, "ErrInvalidImage"
	case errors.Is(err, models.ErrNoFaceDetected):
		status, messageID = http.StatusBadRequest, "ErrNoFaceDetected"
	case errors.Is(err, models.ErrMultipleFaces):
		status, messageID = http.StatusBadRequest, "ErrMultipleFaces"
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidBoundingBox):
		status, messageID = http.StatusBadRequest, "ErrInvalidInput"
	case errors.Is(err, facerecognition.ErrCapabilityUnavailable):
		status, messageID = http.StatusServiceUnavailable, "ErrCapabilityUnavailable"
	case errors.Is(err, models.ErrStudentNotFound):
		status, messageID = http.StatusNotFound, "ErrStudentNotFound"
	case errors.Is(err, models.ErrRecordNotFound):
		status, messageID = http.StatusNotFound, "ErrRecordNotFound"
	}

	body := gin.H{
		"error":      middleware.T(c, messageID, nil, nil),
		"request_id": middleware.GetRequestID(c),
	}
	if status == http.StatusBadRequest {
		body["detail"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		log.WithField("request_id", middleware.GetRequestID(c)).WithError(err).Errorf("%s %s failed", c.Request.Method, c.FullPath())
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSON decodes a bounded JSON body.
func bindJSON(c *gin.Context, dst interface{}) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.Join(models.ErrInvalidInput, err)
	}
	return nil
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Join(models.ErrInvalidInput, errors.New("id must be a positive integer"))
	}
	return uint(id), nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Join(models.ErrInvalidInput, errors.New(key+" must be a non-negative integer"))
	}
	return n, nil
}
