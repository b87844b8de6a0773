package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"face-attendance/internal/core/models"
	"face-attendance/internal/events"
	"face-attendance/internal/metrics"
	"face-attendance/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// unknownStudentID is what an unparseable identity key resolves to.
const unknownStudentID = "unknown"

// Status is the per-student result of reconciliation.
type Status string

const (
	StatusRecorded        Status = "recorded"
	StatusAlreadyRecorded Status = "already_recorded"
	StatusRejected        Status = "rejected"
)

// Ledger is the storage the reconciler writes to.
type Ledger interface {
	RecordAllIfAbsent(ctx context.Context, recs []*models.AttendanceRecord) ([]*models.AttendanceRecord, []bool, error)
	GetStudentByStudentID(ctx context.Context, studentID string) (*models.Student, error)
}

// Match is one resolved face.
type Match struct {
	FaceIndex  int
	StudentID  string
	Name       string
	Confidence float64
}

// Batch is everything one recognition request resolved for a subject.
type Batch struct {
	RequestID string
	SubjectID string
	At        time.Time
	Matches   []Match
}

// Outcome reports what happened for one student.
type Outcome struct {
	FaceIndex  int     `json:"face_index"`
	StudentID  string  `json:"student_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Status     Status  `json:"status"`
	RecordID   uint    `json:"record_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// Reconciler turns resolved faces into at most one attendance record per student, subject and day.
// A student already recorded for the day is left untouched.
type Reconciler struct {
	ledger  Ledger
	sink    events.Sink
	metrics *metrics.Manager
}

// NewReconciler creates a reconciler. sink and m may be nil.
func NewReconciler(ledger Ledger, sink events.Sink, m *metrics.Manager) *Reconciler {
	if sink == nil {
		sink = events.Nop
	}
	return &Reconciler{ledger: ledger, sink: sink, metrics: m}
}

// Dedupe keeps the highest-confidence match per student. Ties keep the lower face index.
// The result is ordered by face index.
func Dedupe(matches []Match) []Match {
	best := make(map[string]Match, len(matches))
	for _, m := range matches {
		cur, ok := best[m.StudentID]
		if !ok || m.Confidence > cur.Confidence || (m.Confidence == cur.Confidence && m.FaceIndex < cur.FaceIndex) {
			best[m.StudentID] = m
		}
	}

	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FaceIndex < out[j].FaceIndex })
	return out
}

// Reconcile writes the batch. All records of one batch are written in a single transaction,
// so a storage error or a done ctx leaves the ledger as it was.
func (r *Reconciler) Reconcile(ctx context.Context, batch Batch) ([]Outcome, error) {
	if batch.SubjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", models.ErrInvalidInput)
	}
	at := batch.At
	if at.IsZero() {
		at = timezone.Now()
	}
	day := timezone.Day(at)

	logger := log.WithFields(log.Fields{
		"request_id": batch.RequestID,
		"subject_id": batch.SubjectID,
		"day":        day,
	})

	matches := Dedupe(batch.Matches)
	outcomes := make([]Outcome, len(matches))
	var (
		records []*models.AttendanceRecord
		slots   []int
	)
	for i, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes[i] = Outcome{FaceIndex: m.FaceIndex, StudentID: m.StudentID, Name: m.Name, Confidence: m.Confidence}

		reason, ok, err := r.accept(ctx, m)
		if err != nil {
			return nil, err
		}
		if !ok {
			outcomes[i].Status, outcomes[i].Reason = StatusRejected, reason
			continue
		}

		evidence, err := json.Marshal(models.VerificationData{
			Confidence: m.Confidence,
			FaceIndex:  m.FaceIndex,
			RequestID:  batch.RequestID,
		})
		if err != nil {
			return nil, fmt.Errorf("encode verification data: %w", err)
		}
		records = append(records, &models.AttendanceRecord{
			StudentID:          m.StudentID,
			SubjectID:          batch.SubjectID,
			Day:                day,
			Status:             models.StatusPresent,
			Confidence:         m.Confidence,
			VerificationMethod: models.VerificationFace,
			VerificationData:   datatypes.JSON(evidence),
			RecordedAt:         at,
		})
		slots = append(slots, i)
	}

	var (
		stored  []*models.AttendanceRecord
		created []bool
	)
	if len(records) > 0 {
		var err error
		stored, created, err = r.ledger.RecordAllIfAbsent(ctx, records)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("record attendance: %w", err)
		}
	}
	for j, i := range slots {
		outcomes[i].RecordID = stored[j].ID
		if created[j] {
			outcomes[i].Status = StatusRecorded
		} else {
			outcomes[i].Status = StatusAlreadyRecorded
		}
	}

	for _, o := range outcomes {
		switch o.Status {
		case StatusRejected:
			logger.Infof("Attendance for %s rejected: %s", o.StudentID, o.Reason)
		case StatusRecorded:
			logger.Infof("Attendance recorded for %s (%.1f%%)", o.StudentID, o.Confidence)
		default:
			logger.Debugf("Attendance for %s already recorded", o.StudentID)
		}
		r.metrics.RecordAttendance(string(o.Status))
	}
	for j := range slots {
		if created[j] {
			r.sink.Publish(events.New(events.AttendanceRecorded, batch.RequestID, stored[j]))
		}
	}

	return outcomes, nil
}

// accept checks that a match belongs to an enrolled student. A failed roster read is an error,
// not a rejection.
func (r *Reconciler) accept(ctx context.Context, m Match) (string, bool, error) {
	if m.StudentID == "" || m.StudentID == unknownStudentID {
		return "identity key has no student id", false, nil
	}
	student, err := r.ledger.GetStudentByStudentID(ctx, m.StudentID)
	if err != nil {
		return "", false, fmt.Errorf("roster lookup for %s: %w", m.StudentID, err)
	}
	if student == nil {
		return "student is not enrolled", false, nil
	}
	return "", true, nil
}
