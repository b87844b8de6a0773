// Package enrollment adds students to the face collection and the roster, and removes them again.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"face-attendance/internal/core/models"
	"face-attendance/internal/events"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/recognition"

	log "github.com/sirupsen/logrus"
)

// Roster is the part of the repository enrollment writes to.
type Roster interface {
	GetStudentByStudentID(ctx context.Context, studentID string) (*models.Student, error)
	UpsertStudent(ctx context.Context, student *models.Student) error
	DeleteStudent(ctx context.Context, studentID string) (bool, error)
}

// Deferrer queues a collection deletion that could not be done right away, and drops
// queued deletions of a key that is enrolled again.
type Deferrer interface {
	EnqueueDelete(ctx context.Context, collectionID, identityKey string) error
	CancelDeletes(ctx context.Context, collectionID, identityKey string) error
}

// Capability is what enrollment needs from the provider.
type Capability interface {
	facerecognition.Detector
	facerecognition.Enroller
}

// Request is one enrollment photo.
type Request struct {
	Name      string
	StudentID string
	Image     []byte
}

// Writer enrolls and removes students.
type Writer struct {
	capability   Capability
	roster       Roster
	deferrer     Deferrer
	sink         events.Sink
	enhancer     recognition.Enhancer
	collectionID string
}

// NewWriter creates a Writer. deferrer may be nil, in which case a failed deletion is returned as error.
func NewWriter(capability Capability, roster Roster, deferrer Deferrer, sink events.Sink, enhancer recognition.Enhancer, collectionID string) *Writer {
	if sink == nil {
		sink = events.Nop
	}
	return &Writer{
		capability:   capability,
		roster:       roster,
		deferrer:     deferrer,
		sink:         sink,
		enhancer:     enhancer,
		collectionID: collectionID,
	}
}

// Enroll indexes the single face in req.Image under the student's identity key and stores the roster entry.
// Enrolling an existing studentId again adds another example under the same key.
func (w *Writer) Enroll(ctx context.Context, req Request) (*models.Student, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidInput)
	}
	key, err := recognition.IdentityKey(name, strings.TrimSpace(req.StudentID))
	if err != nil {
		return nil, err
	}
	studentID := strings.TrimSpace(req.StudentID)

	img, err := recognition.DecodeImage(req.Image)
	if err != nil {
		return nil, err
	}
	encoded, err := recognition.EncodeJPEG(w.enhancer.Apply(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}

	boxes, err := w.capability.DetectFaces(ctx, encoded)
	if err != nil {
		return nil, err
	}
	switch {
	case len(boxes) == 0:
		return nil, models.ErrNoFaceDetected
	case len(boxes) > 1:
		return nil, fmt.Errorf("%w: %d faces", models.ErrMultipleFaces, len(boxes))
	}

	existing, err := w.roster.GetStudentByStudentID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	// a deletion queued by an earlier Remove would wipe the faces indexed below
	if w.deferrer != nil {
		if err := w.deferrer.CancelDeletes(ctx, w.collectionID, key); err != nil {
			return nil, err
		}
	}

	faceID, err := w.capability.IndexFace(ctx, encoded, w.collectionID, key)
	if err != nil {
		return nil, err
	}

	student := &models.Student{
		StudentID:   studentID,
		Name:        name,
		IdentityKey: key,
		FaceID:      faceID,
	}
	if err := w.roster.UpsertStudent(ctx, student); err != nil {
		// the key only stays in the collection if the roster already points at it
		if existing == nil || existing.IdentityKey != key {
			if derr := w.deleteOrQueue(ctx, key); derr != nil {
				log.WithError(derr).Errorf("Face %s could not be removed after failed roster write", key)
			}
		}
		return nil, fmt.Errorf("save student %s: %w", studentID, err)
	}
	// Upsert does not reload CreatedAt/ID for an existing row
	if stored, err := w.roster.GetStudentByStudentID(ctx, studentID); err == nil && stored != nil {
		student = stored
	}

	log.WithFields(log.Fields{"student_id": studentID, "identity_key": key}).Info("Student enrolled")
	w.sink.Publish(events.New(events.StudentEnrolled, "", student))
	return student, nil
}

// Remove deletes the roster entry and the student's faces. When the capability is unreachable the
// collection deletion is queued for the sync service and Remove still succeeds.
func (w *Writer) Remove(ctx context.Context, studentID string) error {
	student, err := w.roster.GetStudentByStudentID(ctx, studentID)
	if err != nil {
		return err
	}
	if student == nil {
		return models.ErrStudentNotFound
	}

	deleted, err := w.roster.DeleteStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if !deleted {
		return models.ErrStudentNotFound
	}

	if err := w.deleteOrQueue(ctx, student.IdentityKey); err != nil {
		return err
	}

	w.sink.Publish(events.New(events.StudentRemoved, "", student))
	return nil
}

// deleteOrQueue removes key from the collection, or queues the removal when the capability is unreachable.
func (w *Writer) deleteOrQueue(ctx context.Context, key string) error {
	err := w.capability.DeleteIdentity(ctx, w.collectionID, key)
	if err == nil {
		return nil
	}
	if w.deferrer == nil || !errors.Is(err, facerecognition.ErrCapabilityUnavailable) {
		return err
	}
	log.WithError(err).Warnf("Löschen von %s im Face-Service fehlgeschlagen, wird später wiederholt", key)
	return w.deferrer.EnqueueDelete(ctx, w.collectionID, key)
}
