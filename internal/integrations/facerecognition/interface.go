package facerecognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ProviderType definiert den Typ des Gesichtserkennungsdiensts
type ProviderType string

const (
	// ProviderCompreFace steht für den CompreFace-Dienst
	ProviderCompreFace ProviderType = "compreface"

	// ProviderRekognition steht für AWS Rekognition
	ProviderRekognition ProviderType = "rekognition"

	// ProviderOpenCV is the local Haar cascade detector. It can detect but not search.
	ProviderOpenCV ProviderType = "opencv"
)

// ErrCapabilityUnavailable covers every transport, auth, quota and timeout failure of a provider.
// A request that hits it must fail as a whole.
var ErrCapabilityUnavailable = errors.New("face capability unavailable")

// Unavailable wraps err so that errors.Is(result, ErrCapabilityUnavailable) holds.
func Unavailable(provider ProviderType, op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s %s: %w", provider, op, ErrCapabilityUnavailable)
	}
	return fmt.Errorf("%s %s: %w: %w", provider, op, ErrCapabilityUnavailable, err)
}

// BoundingBox is a face region as fractions of the image size, so Left+Width <= 1 for a box inside the image.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	// Confidence is the detector's score, 0-100.
	Confidence float64 `json:"confidence"`
}

// Candidate is the best collection match for one face.
type Candidate struct {
	IdentityKey string  `json:"identity_key"`
	Confidence  float64 `json:"confidence"` // 0-100
}

// Detector finds faces in an encoded image.
type Detector interface {
	DetectFaces(ctx context.Context, img []byte) ([]BoundingBox, error)
}

// Matcher searches a collection for the face in an encoded crop.
// No match at or above threshold is (nil, nil), never an error.
type Matcher interface {
	SearchIdentity(ctx context.Context, crop []byte, collectionID string, threshold float64) (*Candidate, error)
}

// Capability is what the recognition pipeline needs from a provider.
type Capability interface {
	Detector
	Matcher
}

// Enroller writes to a face collection.
type Enroller interface {
	// IndexFace stores the single face in img under identityKey and returns the provider's face id.
	IndexFace(ctx context.Context, img []byte, collectionID, identityKey string) (string, error)

	// DeleteIdentity removes every face stored under identityKey. Deleting an unknown key is not an error.
	DeleteIdentity(ctx context.Context, collectionID, identityKey string) error
}

// Provider definiert die Schnittstelle für Gesichtserkennungsdienste
type Provider interface {
	Capability
	Enroller

	// Name gibt den Namen des Providers zurück
	Name() ProviderType

	// IsAvailable prüft, ob der Dienst verfügbar ist
	IsAvailable(ctx context.Context) bool
}

// CollectionManager is implemented by providers whose collections must exist before use.
type CollectionManager interface {
	EnsureCollection(ctx context.Context, collectionID string) error
}

// WithDetector returns p with face detection delegated to d.
func WithDetector(p Provider, d Detector) Provider {
	return &composite{Provider: p, detector: d}
}

type composite struct {
	Provider
	detector Detector
}

func (c *composite) DetectFaces(ctx context.Context, img []byte) ([]BoundingBox, error) {
	return c.detector.DetectFaces(ctx, img)
}

// EnsureCollection forwards to the wrapped provider when it manages collections.
func (c *composite) EnsureCollection(ctx context.Context, collectionID string) error {
	if cm, ok := c.Provider.(CollectionManager); ok {
		return cm.EnsureCollection(ctx, collectionID)
	}
	return nil
}

// ProviderManager verwaltet verschiedene Gesichtserkennungsdienste
type ProviderManager struct {
	mu        sync.RWMutex
	providers map[ProviderType]Provider
	active    ProviderType
}

// NewProviderManager erstellt einen neuen ProviderManager für Gesichtserkennungsdienste
func NewProviderManager() *ProviderManager {
	return &ProviderManager{
		providers: make(map[ProviderType]Provider),
	}
}

// RegisterProvider registriert einen neuen Gesichtserkennungsdienst
func (m *ProviderManager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[provider.Name()] = provider
}

// SetActiveProvider setzt den aktiven Gesichtserkennungsdienst
func (m *ProviderManager) SetActiveProvider(providerType ProviderType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[providerType]; exists {
		m.active = providerType
		return true
	}
	return false
}

// GetActiveProvider gibt den aktuell aktiven Gesichtserkennungsdienst zurück
func (m *ProviderManager) GetActiveProvider() (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil, false
	}
	p, ok := m.providers[m.active]
	return p, ok
}

// GetAvailableProviders gibt eine Liste aller verfügbaren Gesichtserkennungsdienste zurück
func (m *ProviderManager) GetAvailableProviders(ctx context.Context) []ProviderType {
	m.mu.RLock()
	providers := make(map[ProviderType]Provider, len(m.providers))
	for name, p := range m.providers {
		providers[name] = p
	}
	m.mu.RUnlock()

	var available []ProviderType
	for name, provider := range providers {
		if provider.IsAvailable(ctx) {
			available = append(available, name)
		}
	}
	return available
}
