package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"face-attendance/internal/attendance"
	"face-attendance/internal/core/models"
	"face-attendance/internal/core/processor"
	"face-attendance/internal/events"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/logger"
	"face-attendance/internal/metrics"
	"face-attendance/internal/util/timezone"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// State is a step of one recognition request.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateDetecting  State = "DETECTING"
	StateNoFaces    State = "NO_FACES"
	StateExtracting State = "EXTRACTING"
	StateResolving  State = "RESOLVING"
	StateAggregated State = "AGGREGATED"
	StateResponded  State = "RESPONDED"
)

// FaceStatus is the per-face outcome.
type FaceStatus string

const (
	FaceRecognized    FaceStatus = "recognized"
	FaceNotRecognized FaceStatus = "not_recognized"
	// FaceRejected marks a box that could not be cut from the image. It still counts as detected.
	FaceRejected FaceStatus = "rejected"
)

// ErrAborted is returned when the caller cancelled the request before it completed.
var ErrAborted = errors.New("recognition aborted")

// FaceMatch is the outcome for the face at FaceIndex in detection order.
type FaceMatch struct {
	FaceIndex  int                         `json:"face_index"`
	Box        facerecognition.BoundingBox `json:"box"`
	Status     FaceStatus                  `json:"status"`
	Identity   *Identity                   `json:"identity"`
	Confidence *float64                    `json:"confidence"`
}

// Request is one image to recognize. SubjectID is optional; without it nothing is written.
type Request struct {
	RequestID string
	Image     []byte
	SubjectID string
}

// Result is the aggregated response for one request.
type Result struct {
	RequestID  string               `json:"request_id"`
	TotalFaces int                  `json:"total_faces"`
	Recognized int                  `json:"recognized"`
	Faces      []FaceMatch          `json:"faces"`
	Message    string               `json:"message"`
	Attendance []attendance.Outcome `json:"attendance,omitempty"`
}

// AttendanceRecorder receives the resolved faces of a completed request.
type AttendanceRecorder interface {
	Reconcile(ctx context.Context, batch attendance.Batch) ([]attendance.Outcome, error)
}

// Options configures an Orchestrator.
type Options struct {
	Enhancer    Enhancer
	Extractor   Extractor
	CallTimeout time.Duration
	Attendance  AttendanceRecorder
	Sink        events.Sink
	Metrics     *metrics.Manager
}

// Orchestrator runs detection, extraction, resolution and reconciliation for one image.
type Orchestrator struct {
	detector    facerecognition.Detector
	resolver    *Resolver
	pool        *processor.WorkerPool
	provider    facerecognition.ProviderType
	enhancer    Enhancer
	extractor   Extractor
	callTimeout time.Duration
	attendance  AttendanceRecorder
	sink        events.Sink
	metrics     *metrics.Manager
}

// NewOrchestrator wires the pipeline. pool bounds concurrent searches across all requests.
func NewOrchestrator(detector facerecognition.Detector, resolver *Resolver, pool *processor.WorkerPool, opts Options) *Orchestrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop
	}
	provider := facerecognition.ProviderType("capability")
	if named, ok := detector.(interface{ Name() facerecognition.ProviderType }); ok {
		provider = named.Name()
	}
	return &Orchestrator{
		detector:    detector,
		resolver:    resolver,
		pool:        pool,
		provider:    provider,
		enhancer:    opts.Enhancer,
		extractor:   opts.Extractor,
		callTimeout: opts.CallTimeout,
		attendance:  opts.Attendance,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
	}
}

// Recognize processes req. A capability failure anywhere fails the whole request and nothing is written.
func (o *Orchestrator) Recognize(ctx context.Context, req Request) (*Result, error) {
	receivedAt := timezone.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	entry := logger.WithRequest(req.RequestID)
	if req.SubjectID != "" {
		entry = entry.WithField("subject_id", req.SubjectID)
	}
	o.transition(entry, StateReceived)

	img, err := DecodeImage(req.Image)
	if err != nil {
		o.metrics.RecordRequest("invalid_image")
		return nil, err
	}
	prepared := o.enhancer.Apply(img)
	encoded, err := EncodeJPEG(prepared)
	if err != nil {
		o.metrics.RecordRequest("error")
		return nil, err
	}

	o.transition(entry, StateDetecting)
	boxes, err := o.detect(ctx, encoded)
	if err != nil {
		return nil, o.fail(ctx, entry, err)
	}

	result := &Result{RequestID: req.RequestID, TotalFaces: len(boxes), Faces: []FaceMatch{}}
	if len(boxes) == 0 {
		o.transition(entry, StateNoFaces)
		result.Message = Summary(0, 0)
		o.metrics.RecordRequest("no_faces")
		o.publish(req, result)
		o.transition(entry, StateResponded)
		return result, nil
	}

	o.transition(entry, StateExtracting)
	faces := make([]FaceMatch, len(boxes))
	tasks := make([]processor.Task, 0, len(boxes))
	for i, box := range boxes {
		faces[i] = FaceMatch{FaceIndex: i, Box: box, Status: FaceNotRecognized}

		crop, err := o.extractor.Extract(prepared, box)
		if err != nil {
			entry.WithField("face", i+1).Infof("Face skipped: %v", err)
			faces[i].Status = FaceRejected
			continue
		}
		cropBytes, err := EncodeJPEG(crop)
		if err != nil {
			o.metrics.RecordRequest("error")
			return nil, err
		}

		idx := i
		tasks = append(tasks, func(ctx context.Context) error {
			res, err := o.resolve(ctx, cropBytes)
			if err != nil {
				return fmt.Errorf("face %d: %w", idx+1, err)
			}
			if res.Identity != nil {
				faces[idx].Status = FaceRecognized
				faces[idx].Identity = res.Identity
				faces[idx].Confidence = res.Confidence
			}
			return nil
		})
	}

	o.transition(entry, StateResolving)
	if err := o.pool.RunAll(ctx, tasks); err != nil {
		return nil, o.fail(ctx, entry, err)
	}

	o.transition(entry, StateAggregated)
	result.Faces = faces
	var matches []attendance.Match
	for _, f := range faces {
		o.metrics.RecordFace(string(f.Status))
		if f.Status != FaceRecognized {
			continue
		}
		result.Recognized++
		matches = append(matches, attendance.Match{
			FaceIndex:  f.FaceIndex,
			StudentID:  f.Identity.StudentID,
			Name:       f.Identity.Name,
			Confidence: *f.Confidence,
		})
	}
	result.Message = Summary(result.TotalFaces, result.Recognized)

	if req.SubjectID != "" && o.attendance != nil {
		// nothing may be written for an aborted request
		if ctx.Err() != nil {
			return nil, o.fail(ctx, entry, ctx.Err())
		}
		outcomes, err := o.attendance.Reconcile(ctx, attendance.Batch{
			RequestID: req.RequestID,
			SubjectID: req.SubjectID,
			At:        receivedAt,
			Matches:   matches,
		})
		if err != nil {
			return nil, o.fail(ctx, entry, err)
		}
		result.Attendance = outcomes
	}

	o.metrics.RecordRequest("success")
	o.publish(req, result)
	entry.Infof("Recognition completed: %d faces, %d recognized", result.TotalFaces, result.Recognized)
	o.transition(entry, StateResponded)
	return result, nil
}

// Summary is the operator-facing message. It always states the face count.
func Summary(total, recognized int) string {
	switch {
	case total == 0:
		return "No face detected (0 faces)"
	case total == 1:
		return fmt.Sprintf("1 face detected, %d recognized", recognized)
	default:
		return fmt.Sprintf("%d faces detected, %d recognized", total, recognized)
	}
}

func (o *Orchestrator) detect(ctx context.Context, img []byte) ([]facerecognition.BoundingBox, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	boxes, err := o.detector.DetectFaces(callCtx, img)
	o.metrics.ObserveCapability("detect", start, err)
	if err != nil {
		return nil, o.classify(ctx, "detect", err)
	}
	return boxes, nil
}

func (o *Orchestrator) resolve(ctx context.Context, crop []byte) (Resolution, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.resolver.Resolve(callCtx, crop)
	o.metrics.ObserveCapability("search", start, err)
	if err != nil {
		return Resolution{}, o.classify(ctx, "search", err)
	}
	return res, nil
}

// classify maps a capability error. Per-call timeouts and unclassified failures are
// capability unavailable; a cancelled parent stays a cancellation.
func (o *Orchestrator) classify(parent context.Context, op string, err error) error {
	switch {
	case errors.Is(err, facerecognition.ErrCapabilityUnavailable), errors.Is(err, models.ErrInvalidImage):
		return err
	case parent.Err() != nil:
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return facerecognition.Unavailable(o.provider, op+" timed out", err)
	default:
		return facerecognition.Unavailable(o.provider, op, err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, entry *log.Entry, err error) error {
	switch {
	case ctx.Err() != nil:
		entry.Warnf("Recognition aborted by caller: %v", ctx.Err())
		o.metrics.RecordRequest("aborted")
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	case errors.Is(err, facerecognition.ErrCapabilityUnavailable):
		entry.Errorf("Recognition failed, capability unavailable: %v", err)
		o.metrics.RecordRequest("unavailable")
	case errors.Is(err, models.ErrInvalidImage):
		o.metrics.RecordRequest("invalid_image")
	default:
		entry.Errorf("Recognition failed: %v", err)
		o.metrics.RecordRequest("error")
	}
	return err
}

func (o *Orchestrator) transition(entry *log.Entry, s State) {
	entry.WithField("state", s).Debug("Recognition state")
}

func (o *Orchestrator) publish(req Request, result *Result) {
	o.sink.Publish(events.New(events.RecognitionCompleted, req.RequestID, map[string]interface{}{
		"subject_id":  req.SubjectID,
		"total_faces": result.TotalFaces,
		"recognized":  result.Recognized,
	}))
}
