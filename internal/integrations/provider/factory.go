package provider

import (
	"context"
	"fmt"

	"face-attendance/config"
	"face-attendance/internal/integrations/compreface"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/integrations/opencv"
	"face-attendance/internal/integrations/rekognition"

	log "github.com/sirupsen/logrus"
)

// CreateManager erstellt einen neuen ProviderManager für Gesichtserkennungsdienste
// basierend auf der Konfiguration
func CreateManager(ctx context.Context, cfg *config.Config) (*facerecognition.ProviderManager, error) {
	manager := facerecognition.NewProviderManager()

	if cfg.CompreFace.Enabled {
		log.Info("Registriere CompreFace als Gesichtserkennungsanbieter")
		manager.RegisterProvider(compreface.NewService(cfg.CompreFace))
	}

	if cfg.Recognition.Provider == string(facerecognition.ProviderRekognition) {
		log.Info("Registriere AWS Rekognition als Gesichtserkennungsanbieter")
		svc, err := rekognition.New(ctx, cfg.Rekognition, cfg.Recognition.CollectionID)
		if err != nil {
			return nil, err
		}
		manager.RegisterProvider(svc)
	}

	active := facerecognition.ProviderType(cfg.Recognition.Provider)
	if !manager.SetActiveProvider(active) {
		return nil, fmt.Errorf("face recognition provider %q is not registered", active)
	}
	log.Infof("Aktiver Gesichtserkennungsanbieter: %s", active)

	return manager, nil
}

// ActiveProvider returns the active provider, with detection replaced by OpenCV when configured.
// The returned close function releases local detector resources.
func ActiveProvider(ctx context.Context, cfg *config.Config, manager *facerecognition.ProviderManager) (facerecognition.Provider, func() error, error) {
	p, ok := manager.GetActiveProvider()
	if !ok {
		return nil, nil, fmt.Errorf("no active face recognition provider")
	}
	noop := func() error { return nil }

	if cm, ok := p.(facerecognition.CollectionManager); ok {
		if err := cm.EnsureCollection(ctx, cfg.Recognition.CollectionID); err != nil {
			log.Warnf("Could not ensure collection %s: %v", cfg.Recognition.CollectionID, err)
		}
	}

	if cfg.Recognition.Detector != string(facerecognition.ProviderOpenCV) {
		return p, noop, nil
	}

	detector, err := opencv.NewService(cfg.OpenCV)
	if err != nil {
		return nil, nil, fmt.Errorf("fehler beim Initialisieren des OpenCV-Detektors: %w", err)
	}
	log.Infof("Face detection delegated to OpenCV, search stays with %s", p.Name())
	return facerecognition.WithDetector(p, detector), detector.Close, nil
}
