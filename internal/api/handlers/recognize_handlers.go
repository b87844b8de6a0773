package handlers

import (
	"net/http"

	"face-attendance/internal/api/middleware"
	"face-attendance/internal/attendance"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/recognition"

	"github.com/gin-gonic/gin"
)

type recognizeRequest struct {
	Image     string `json:"image"`
	SubjectID string `json:"subjectId"`
}

// identifiedPerson is one face in detection order. Name, student id and confidence are null for unresolved faces.
type identifiedPerson struct {
	FaceNumber int                         `json:"face_number"`
	Name       *string                     `json:"name"`
	StudentID  *string                     `json:"student_id"`
	Confidence *float64                    `json:"confidence"`
	Status     recognition.FaceStatus      `json:"status"`
	Box        facerecognition.BoundingBox `json:"box"`
}

type recognizeResponse struct {
	RequestID        string               `json:"request_id"`
	TotalFaces       int                  `json:"total_faces"`
	IdentifiedPeople []identifiedPerson   `json:"identified_people"`
	Message          string               `json:"message"`
	Attendance       []attendance.Outcome `json:"attendance,omitempty"`
}

// Recognize erkennt alle Gesichter im Bild und trägt bei Angabe eines Fachs die Anwesenheit ein.
func (h *APIHandler) Recognize(c *gin.Context) {
	var req recognizeRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	img, err := recognition.DecodeBase64Image(req.Image)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.Recognizer.Recognize(c.Request.Context(), recognition.Request{
		RequestID: middleware.GetRequestID(c),
		Image:     img,
		SubjectID: req.SubjectID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRecognizeResponse(c, result))
}

func toRecognizeResponse(c *gin.Context, result *recognition.Result) recognizeResponse {
	resp := recognizeResponse{
		RequestID:        result.RequestID,
		TotalFaces:       result.TotalFaces,
		IdentifiedPeople: make([]identifiedPerson, 0, len(result.Faces)),
		Attendance:       result.Attendance,
	}
	for _, f := range result.Faces {
		p := identifiedPerson{
			FaceNumber: f.FaceIndex + 1,
			Confidence: f.Confidence,
			Status:     f.Status,
			Box:        f.Box,
		}
		if f.Identity != nil {
			name, id := f.Identity.Name, f.Identity.StudentID
			p.Name, p.StudentID = &name, &id
		}
		resp.IdentifiedPeople = append(resp.IdentifiedPeople, p)
	}

	if result.TotalFaces == 0 {
		resp.Message = middleware.T(c, "NoFacesDetected", nil, nil)
	} else {
		resp.Message = middleware.T(c, "RecognizeSummary", map[string]interface{}{
			"Total":      result.TotalFaces,
			"Recognized": result.Recognized,
		}, result.TotalFaces)
	}
	return resp
}
