package main

import (
	"context"
	"fmt"
	"time"

	"face-attendance/config"
	"face-attendance/internal/attendance"
	"face-attendance/internal/core/processor"
	"face-attendance/internal/db"
	"face-attendance/internal/db/repository"
	"face-attendance/internal/enrollment"
	"face-attendance/internal/events"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/integrations/mqtt"
	"face-attendance/internal/integrations/provider"
	"face-attendance/internal/metrics"
	"face-attendance/internal/recognition"
	"face-attendance/internal/server/sse"
	syncsvc "face-attendance/internal/services/sync"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds every long-lived component.
type app struct {
	cfg           *config.Config
	conn          *gorm.DB
	repo          *repository.SQLiteRepository
	providers     *facerecognition.ProviderManager
	provider      facerecognition.Provider
	closeProvider func() error
	pool          *processor.WorkerPool
	metrics       *metrics.Manager
	hub           *sse.Hub
	mqtt          *mqtt.Client
	sync          *syncsvc.Service
	orchestrator  *recognition.Orchestrator
	writer        *enrollment.Writer
	attendance    *attendance.Service
}

// newApp wires the pipeline. With server=false no event hub or MQTT connection is created.
func newApp(ctx context.Context, cfg *config.Config, server bool) (*app, error) {
	a := &app{cfg: cfg}

	conn, err := db.Open(cfg.DB.File)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.conn = conn
	a.repo = repository.NewSQLiteRepository(conn)

	a.metrics = metrics.NewManager(
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithMetricsEnabled(cfg.Metrics.Enabled),
	)

	a.providers, err = provider.CreateManager(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider, a.closeProvider, err = provider.ActiveProvider(ctx, cfg, a.providers)
	if err != nil {
		a.Close()
		return nil, err
	}

	sinks := events.Multi{events.LogSink{}}
	if server {
		a.hub = sse.NewHub()
		sinks = append(sinks, a.hub)
		if cfg.MQTT.Enabled {
			a.mqtt = mqtt.NewClient(cfg.MQTT)
			sinks = append(sinks, a.mqtt)
		}
	}

	a.pool = processor.NewWorkerPool(cfg.Recognition.MaxWorkers, cfg.Recognition.QueueSize)
	enhancer := recognition.Enhancer{
		Enabled:    cfg.Recognition.Enhance,
		Contrast:   cfg.Recognition.EnhanceContrast,
		Brightness: cfg.Recognition.EnhanceBrightness,
		MaxSize:    cfg.Recognition.MaxImageSize,
	}

	a.sync = syncsvc.NewService(a.repo, a.provider, cfg.Sync, a.metrics)
	a.attendance = attendance.NewService(a.repo)
	a.writer = enrollment.NewWriter(a.provider, a.repo, a.sync, sinks, enhancer, cfg.Recognition.CollectionID)

	resolver := recognition.NewResolver(a.provider, a.repo, cfg.Recognition.CollectionID, cfg.Recognition.MatchThreshold)
	a.orchestrator = recognition.NewOrchestrator(a.provider, resolver, a.pool, recognition.Options{
		Enhancer:    enhancer,
		Extractor:   recognition.Extractor{MinFaceSize: cfg.Recognition.MinFaceSize},
		CallTimeout: time.Duration(cfg.Recognition.CallTimeoutSeconds) * time.Second,
		Attendance:  attendance.NewReconciler(a.repo, sinks, a.metrics),
		Sink:        sinks,
		Metrics:     a.metrics,
	})

	return a, nil
}

// trackWorkers mirrors the pool's active job count into the metrics until ctx ends.
func (a *app) trackWorkers(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.metrics.SetWorkerActive(a.pool.ActiveJobCount())
		case <-ctx.Done():
			return
		}
	}
}

// Close releases everything newApp created.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Shutdown()
	}
	if a.closeProvider != nil {
		if err := a.closeProvider(); err != nil {
			log.WithError(err).Warn("Failed to release face detector")
		}
	}
	if a.conn != nil {
		if sqlDB, err := a.conn.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.WithError(err).Warn("Failed to close database")
			}
		}
	}
}
