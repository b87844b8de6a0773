package models

import (
	"time"

	"gorm.io/datatypes"
)

// Student is one roster entry. The identity key is what the face collection stores for the student.
type Student struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StudentID   string    `gorm:"uniqueIndex;not null" json:"student_id"`
	Name        string    `gorm:"not null" json:"name"`
	IdentityKey string    `gorm:"uniqueIndex;not null" json:"identity_key"`
	FaceID      string    `json:"face_id,omitempty"` // id assigned by the capability on enrollment
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Attendance statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
	StatusExcused = "excused"
)

// ValidStatus reports whether s is a known attendance status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// Verification methods.
const (
	VerificationFace   = "face"
	VerificationManual = "manual"
)

// AttendanceRecord is one ledger row. At most one exists per (student, subject, day).
type AttendanceRecord struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	StudentID          string         `gorm:"not null;uniqueIndex:idx_attendance_once,priority:1;index" json:"student_id"`
	SubjectID          string         `gorm:"not null;uniqueIndex:idx_attendance_once,priority:2;index" json:"subject_id"`
	Day                string         `gorm:"not null;uniqueIndex:idx_attendance_once,priority:3;index" json:"day"`
	Status             string         `gorm:"not null;default:'present'" json:"status"`
	Confidence         float64        `json:"confidence"`
	VerificationMethod string         `gorm:"not null;default:'face'" json:"verification_method"`
	VerificationData   datatypes.JSON `gorm:"type:json" json:"verification_data,omitempty"`
	Remarks            string         `json:"remarks,omitempty"`
	MarkedBy           string         `json:"marked_by,omitempty"`
	RecordedAt         time.Time      `gorm:"index" json:"recorded_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// VerificationData is the evidence stored with a recognition-written record.
type VerificationData struct {
	Confidence float64 `json:"confidence"`
	FaceIndex  int     `json:"face_index"`
	RequestID  string  `json:"request_id"`
}

// AttendanceUpdate is an administrative edit. Nil fields are left unchanged.
type AttendanceUpdate struct {
	Status   *string
	Remarks  *string
	MarkedBy string
}

// AttendanceFilter narrows ledger queries. Zero fields are ignored.
type AttendanceFilter struct {
	StudentID string
	SubjectID string
	Status    string
	From      string // inclusive YYYY-MM-DD
	To        string // inclusive YYYY-MM-DD
	Limit     int
	Offset    int
}

// AttendanceStats summarizes a filtered ledger slice.
type AttendanceStats struct {
	Total   int64   `json:"total"`
	Present int64   `json:"present"`
	Absent  int64   `json:"absent"`
	Late    int64   `json:"late"`
	Excused int64   `json:"excused"`
	Rate    float64 `json:"attendance_rate"` // (present+late)/total*100
}
