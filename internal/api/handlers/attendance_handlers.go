package handlers

import (
	"net/http"

	"face-attendance/internal/api/middleware"
	"face-attendance/internal/core/models"

	"github.com/gin-gonic/gin"
)

type updateAttendanceRequest struct {
	Status   *string `json:"status"`
	Remarks  *string `json:"remarks"`
	MarkedBy string  `json:"marked_by"`
}

func attendanceFilter(c *gin.Context) (models.AttendanceFilter, error) {
	f := models.AttendanceFilter{
		StudentID: c.Query("student_id"),
		SubjectID: c.Query("subject_id"),
		Status:    c.Query("status"),
		From:      c.Query("from"),
		To:        c.Query("to"),
	}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

// ListAttendance listet Anwesenheitseinträge nach Schüler, Fach, Zeitraum und Status.
func (h *APIHandler) ListAttendance(c *gin.Context) {
	filter, err := attendanceFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	records, total, err := h.Attendance.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": total})
}

// AttendanceStats zählt Einträge pro Status.
func (h *APIHandler) AttendanceStats(c *gin.Context) {
	filter, err := attendanceFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.Attendance.Stats(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// UpdateAttendance ändert Status oder Bemerkung eines Eintrags.
func (h *APIHandler) UpdateAttendance(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req updateAttendanceRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	rec, err := h.Attendance.Update(c.Request.Context(), id, models.AttendanceUpdate{
		Status:   req.Status,
		Remarks:  req.Remarks,
		MarkedBy: req.MarkedBy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteAttendance löscht einen Eintrag.
func (h *APIHandler) DeleteAttendance(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Attendance.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": middleware.T(c, "RecordDeleted", nil, nil)})
}
