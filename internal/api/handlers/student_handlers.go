package handlers

import (
	"net/http"

	"face-attendance/internal/api/middleware"
	"face-attendance/internal/enrollment"
	"face-attendance/internal/recognition"

	"github.com/gin-gonic/gin"
)

type enrollRequest struct {
	Name      string `json:"name"`
	StudentID string `json:"studentId"`
	Image     string `json:"image"`
}

// Enroll registriert das Gesicht eines Schülers.
func (h *APIHandler) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	img, err := recognition.DecodeBase64Image(req.Image)
	if err != nil {
		respondError(c, err)
		return
	}

	student, err := h.Students.Enroll(c.Request.Context(), enrollment.Request{
		Name:      req.Name,
		StudentID: req.StudentID,
		Image:     img,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": middleware.T(c, "StudentEnrolled", map[string]interface{}{"Name": student.Name}, nil),
		"student": student,
	})
}

// ListStudents gibt alle registrierten Schüler zurück.
func (h *APIHandler) ListStudents(c *gin.Context) {
	students, err := h.Roster.ListStudents(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "total": len(students)})
}

// DeleteStudent entfernt einen Schüler aus Roster und Sammlung.
func (h *APIHandler) DeleteStudent(c *gin.Context) {
	studentID := c.Param("studentId")
	if err := h.Students.Remove(c.Request.Context(), studentID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": middleware.T(c, "StudentRemoved", map[string]interface{}{"StudentID": studentID}, nil),
	})
}
