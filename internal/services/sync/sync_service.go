package sync

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"face-attendance/config"
	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/metrics"

	log "github.com/sirupsen/logrus"
)

// batchSize caps how many operations one pass retries.
const batchSize = 50

// Store persists pending operations.
type Store interface {
	CreatePendingOperation(ctx context.Context, op *models.PendingOperation) error
	DuePendingOperations(ctx context.Context, now time.Time, limit int) ([]models.PendingOperation, error)
	SavePendingOperation(ctx context.Context, op *models.PendingOperation) error
	CountPendingOperations(ctx context.Context) (int64, error)
	PurgeCompletedOperations(ctx context.Context, before time.Time) (int64, error)
	CancelPendingOperations(ctx context.Context, opType, collectionID, resourceName string, at time.Time) (int64, error)
}

// Service ist verantwortlich für die Verarbeitung ausstehender Operationen mit externen Diensten
type Service struct {
	store    Store
	enroller facerecognition.Enroller
	cfg      config.SyncConfig
	metrics  *metrics.Manager
	now      func() time.Time

	// opMu hält einen Verarbeitungsdurchlauf und CancelDeletes auseinander
	opMu sync.Mutex

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mutex   sync.Mutex
}

// NewService erstellt eine neue Instanz des SyncService
func NewService(store Store, enroller facerecognition.Enroller, cfg config.SyncConfig, m *metrics.Manager) *Service {
	if cfg.ProcessingIntervalSeconds <= 0 {
		cfg.ProcessingIntervalSeconds = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInitialDelaySeconds <= 0 {
		cfg.RetryInitialDelaySeconds = 30
	}
	if cfg.RetryBackoffFactor < 1 {
		cfg.RetryBackoffFactor = 2
	}
	if cfg.RetryMaxDelaySeconds <= 0 {
		cfg.RetryMaxDelaySeconds = 3600
	}
	return &Service{
		store:    store,
		enroller: enroller,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
	}
}

// Start startet den SyncService
func (s *Service) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.processingLoop()

	log.Info("SyncService gestartet")
}

// Stop stoppt den SyncService
func (s *Service) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
	s.wg.Wait()
	s.running = false

	log.Info("SyncService gestoppt")
}

func (s *Service) processingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.ProcessingIntervalSeconds) * time.Second)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	s.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if _, err := s.ProcessPending(ctx); err != nil {
		log.WithError(err).Error("Fehler beim Verarbeiten ausstehender Operationen")
	}
	if _, err := s.Purge(ctx); err != nil {
		log.WithError(err).Error("Fehler beim Bereinigen abgeschlossener Operationen")
	}
}

// EnqueueDelete records that identityKey must still be removed from the collection.
func (s *Service) EnqueueDelete(ctx context.Context, collectionID, identityKey string) error {
	op := &models.PendingOperation{
		OperationType: models.POTypeDeleteIdentity,
		ResourceType:  models.POResourceIdentity,
		ResourceName:  identityKey,
		CollectionID:  collectionID,
		NextAttempt:   s.now(),
		MaxRetries:    s.cfg.MaxRetries,
		Status:        models.POStatusPending,
	}
	if err := s.store.CreatePendingOperation(ctx, op); err != nil {
		return fmt.Errorf("Fehler beim Erstellen der ausstehenden Operation: %w", err)
	}
	log.Infof("Ausstehende Operation vom Typ '%s' für '%s' erstellt (ID: %d)", op.OperationType, identityKey, op.ID)
	s.refreshGauge(ctx)
	return nil
}

// CancelDeletes drops queued deletions of identityKey, used when the identity is enrolled again.
func (s *Service) CancelDeletes(ctx context.Context, collectionID, identityKey string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	n, err := s.store.CancelPendingOperations(ctx, models.POTypeDeleteIdentity, collectionID, identityKey, s.now())
	if err != nil {
		return fmt.Errorf("Fehler beim Abbrechen ausstehender Löschungen: %w", err)
	}
	if n > 0 {
		log.Infof("%d ausstehende Löschung(en) für '%s' abgebrochen", n, identityKey)
		s.refreshGauge(ctx)
	}
	return nil
}

// ProcessPending retries every due operation once and returns how many completed.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ops, err := s.store.DuePendingOperations(ctx, s.now(), batchSize)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}
	log.Infof("Verarbeite %d ausstehende Operationen", len(ops))

	completed := 0
	for i := range ops {
		if ctx.Err() != nil {
			break
		}
		op := &ops[i]

		switch op.OperationType {
		case models.POTypeDeleteIdentity:
			err = s.enroller.DeleteIdentity(ctx, op.CollectionID, op.ResourceName)
		default:
			log.Warnf("Unbekannter Operationstyp: %s, markiere als fehlgeschlagen", op.OperationType)
			op.Status = models.POStatusFailed
			op.LastError = "unknown operation type"
			if err := s.store.SavePendingOperation(ctx, op); err != nil {
				log.WithError(err).Errorf("Fehler beim Speichern der Operation ID %d", op.ID)
			}
			continue
		}

		op.LastAttempt = s.now()
		op.Retries++

		if err == nil {
			op.Status = models.POStatusCompleted
			op.LastError = ""
			completed++
			log.Infof("Ausstehende Operation ID %d erfolgreich abgeschlossen: %s für %s", op.ID, op.OperationType, op.ResourceName)
		} else {
			op.LastError = err.Error()
			if op.Retries >= op.MaxRetries {
				op.Status = models.POStatusFailed
				log.Warnf("Ausstehende Operation ID %d nach %d Versuchen als fehlgeschlagen markiert: %s", op.ID, op.Retries, op.LastError)
			} else {
				op.NextAttempt = op.LastAttempt.Add(s.backoff(op.Retries))
			}
		}

		if err := s.store.SavePendingOperation(ctx, op); err != nil {
			log.WithError(err).Errorf("Fehler beim Speichern der aktualisierten Operation ID %d", op.ID)
		}
	}

	s.refreshGauge(ctx)
	return completed, nil
}

// Purge deletes finished operations older than the retention period.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	n, err := s.store.PurgeCompletedOperations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("%d abgeschlossene Operationen bereinigt", n)
	}
	return n, nil
}

// backoff is the wait after the given number of failed attempts.
func (s *Service) backoff(retries int) time.Duration {
	delay := float64(s.cfg.RetryInitialDelaySeconds) * math.Pow(s.cfg.RetryBackoffFactor, float64(retries-1))
	if delay > float64(s.cfg.RetryMaxDelaySeconds) {
		delay = float64(s.cfg.RetryMaxDelaySeconds)
	}
	return time.Duration(delay) * time.Second
}

func (s *Service) refreshGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.store.CountPendingOperations(ctx); err == nil {
		s.metrics.SetPendingOperations(n)
	}
}
