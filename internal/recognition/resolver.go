package recognition

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// UnknownStudentID marks an identity whose key could not be parsed.
const UnknownStudentID = "unknown"

const keySeparator = "_"

var (
	studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+$`)
	unsafeKeyChars   = regexp.MustCompile(`[^A-Za-z0-9.\-]`)
)

// Identity is a resolved student.
type Identity struct {
	Name      string `json:"name"`
	StudentID string `json:"student_id"`
}

// ValidStudentID reports whether id can be embedded in an identity key.
// The separator is excluded so a key always splits unambiguously at its last separator.
func ValidStudentID(id string) bool {
	return studentIDPattern.MatchString(id)
}

// SanitizeName maps a display name to the characters collections accept. The separator becomes "-".
func SanitizeName(name string) string {
	return unsafeKeyChars.ReplaceAllString(strings.TrimSpace(name), "-")
}

// IdentityKey builds the collection key for a student.
func IdentityKey(name, studentID string) (string, error) {
	if !ValidStudentID(studentID) {
		return "", fmt.Errorf("%w: student id %q must match %s", models.ErrInvalidInput, studentID, studentIDPattern)
	}
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return "", fmt.Errorf("%w: name must not be empty", models.ErrInvalidInput)
	}
	return sanitized + keySeparator + studentID, nil
}

// ParseIdentityKey splits a key at its last separator. Keys without a usable split
// degrade to (key, "unknown").
func ParseIdentityKey(key string) Identity {
	i := strings.LastIndex(key, keySeparator)
	if i <= 0 || i == len(key)-1 {
		return Identity{Name: key, StudentID: UnknownStudentID}
	}
	return Identity{Name: key[:i], StudentID: key[i+1:]}
}

// RosterLookup finds enrolled students by identity key. A missing student is (nil, nil).
type RosterLookup interface {
	GetStudentByKey(ctx context.Context, identityKey string) (*models.Student, error)
}

// Resolution is the outcome for one face. Identity and Confidence are nil when unresolved.
type Resolution struct {
	Identity   *Identity
	Confidence *float64
}

// Resolver maps face crops to students.
type Resolver struct {
	matcher      facerecognition.Matcher
	roster       RosterLookup
	collectionID string
	threshold    float64
}

// NewResolver creates a resolver. roster may be nil, in which case keys are always parsed.
func NewResolver(matcher facerecognition.Matcher, roster RosterLookup, collectionID string, threshold float64) *Resolver {
	return &Resolver{
		matcher:      matcher,
		roster:       roster,
		collectionID: collectionID,
		threshold:    threshold,
	}
}

// Threshold returns the minimum confidence for a match.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve searches the collection for crop. Only capability failures are returned as errors;
// no candidate or a candidate below the threshold is an unresolved Resolution.
func (r *Resolver) Resolve(ctx context.Context, crop []byte) (Resolution, error) {
	candidate, err := r.matcher.SearchIdentity(ctx, crop, r.collectionID, r.threshold)
	if err != nil {
		return Resolution{}, err
	}
	if candidate == nil || candidate.Confidence < r.threshold {
		return Resolution{}, nil
	}

	identity := r.lookup(ctx, candidate.IdentityKey)
	confidence := candidate.Confidence
	return Resolution{Identity: &identity, Confidence: &confidence}, nil
}

func (r *Resolver) lookup(ctx context.Context, key string) Identity {
	if r.roster != nil {
		student, err := r.roster.GetStudentByKey(ctx, key)
		if err != nil {
			log.Warnf("Roster lookup for %s failed, parsing key instead: %v", key, err)
		} else if student != nil {
			return Identity{Name: student.Name, StudentID: student.StudentID}
		}
	}
	return ParseIdentityKey(key)
}
