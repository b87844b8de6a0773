package compreface

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"face-attendance/config"
	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// Service implementiert das facerecognition.Provider-Interface mit dem CompreFace-Client.
// CompreFace scopes subjects by API key, so collection ids are ignored.
type Service struct {
	client *Client
	config config.CompreFaceConfig
}

// NewService erstellt einen neuen CompreFace-Service
func NewService(cfg config.CompreFaceConfig) *Service {
	return &Service{
		client: NewClient(cfg),
		config: cfg,
	}
}

// Name gibt den Namen des Providers zurück
func (s *Service) Name() facerecognition.ProviderType {
	return facerecognition.ProviderCompreFace
}

// IsAvailable prüft, ob der CompreFace-Dienst verfügbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	if !s.config.Enabled {
		return false
	}
	if err := s.client.Ping(ctx); err != nil {
		log.Warnf("CompreFace connection test failed: %v", err)
		return false
	}
	return true
}

// DetectFaces returns the faces in img as fractional boxes.
func (s *Service) DetectFaces(ctx context.Context, img []byte) ([]facerecognition.BoundingBox, error) {
	if !s.config.Enabled {
		return nil, s.unavailable("detect", errors.New("CompreFace is not enabled in config"))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, models.ErrInvalidImage
	}

	boxes, err := s.client.Detect(ctx, img)
	if err != nil {
		if isNoFace(err) {
			return []facerecognition.BoundingBox{}, nil
		}
		return nil, s.unavailable("detect", err)
	}

	w, h := float64(cfg.Width), float64(cfg.Height)
	result := make([]facerecognition.BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		result = append(result, facerecognition.BoundingBox{
			Left:       float64(b.XMin) / w,
			Top:        float64(b.YMin) / h,
			Width:      float64(b.XMax-b.XMin) / w,
			Height:     float64(b.YMax-b.YMin) / h,
			Confidence: b.Probability * 100,
		})
	}
	return result, nil
}

// SearchIdentity returns the best subject for the face in crop if its similarity reaches threshold.
func (s *Service) SearchIdentity(ctx context.Context, crop []byte, _ string, threshold float64) (*facerecognition.Candidate, error) {
	if !s.config.Enabled {
		return nil, s.unavailable("search", errors.New("CompreFace is not enabled in config"))
	}

	resp, err := s.client.Recognize(ctx, crop)
	if err != nil {
		if isNoFace(err) {
			return nil, nil
		}
		return nil, s.unavailable("search", err)
	}

	var best *Subject
	for i := range resp.Result {
		for j := range resp.Result[i].Subjects {
			subj := &resp.Result[i].Subjects[j]
			if best == nil || subj.Similarity > best.Similarity {
				best = subj
			}
		}
	}
	if best == nil {
		return nil, nil
	}

	confidence := best.Similarity * 100
	if confidence < threshold {
		return nil, nil
	}
	return &facerecognition.Candidate{IdentityKey: best.Subject, Confidence: confidence}, nil
}

// IndexFace adds img as an example of the subject identityKey.
func (s *Service) IndexFace(ctx context.Context, img []byte, _ string, identityKey string) (string, error) {
	if !s.config.Enabled {
		return "", s.unavailable("index", errors.New("CompreFace is not enabled in config"))
	}

	resp, err := s.client.AddSubjectExample(ctx, identityKey, img)
	if err != nil {
		if isNoFace(err) {
			return "", models.ErrNoFaceDetected
		}
		return "", s.unavailable("index", err)
	}
	return resp.ImageID, nil
}

// DeleteIdentity removes the subject and all of its examples.
func (s *Service) DeleteIdentity(ctx context.Context, _ string, identityKey string) error {
	if !s.config.Enabled {
		return s.unavailable("delete", errors.New("CompreFace is not enabled in config"))
	}

	err := s.client.DeleteSubject(ctx, identityKey)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(apiErr.Message), "not found") {
			log.Debugf("Subject %s not present in CompreFace", identityKey)
			return nil
		}
	}
	return s.unavailable("delete", err)
}

func (s *Service) unavailable(op string, err error) error {
	return facerecognition.Unavailable(facerecognition.ProviderCompreFace, op, err)
}

func isNoFace(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NoFaceFound()
}
