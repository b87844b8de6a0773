package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"face-attendance/internal/api"
	"face-attendance/internal/api/handlers"
	"face-attendance/internal/api/middleware"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.hub.Run()
	defer a.hub.Stop()

	if a.mqtt != nil {
		if err := a.mqtt.Start(); err != nil {
			log.Warnf("Failed to connect MQTT client: %v. Continuing without MQTT.", err)
		}
		defer a.mqtt.Stop()
	}

	a.sync.Start()
	defer a.sync.Stop()
	go a.trackWorkers(ctx)

	translator, err := middleware.NewTranslator(cfg.Server.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	h := handlers.NewAPIHandler(handlers.Deps{
		Recognizer: a.orchestrator,
		Students:   a.writer,
		Roster:     a.repo,
		Attendance: a.attendance,
		Providers:  a.providers,
		Pending:    a.repo,
		Pool:       a.pool,
	})
	rc := api.RouterConfig{
		CORSOrigins:   cfg.Server.CORSOrigins,
		SessionSecret: cfg.Server.SessionSecret,
		Translator:    translator,
		Events:        a.hub.Handler,
	}
	if cfg.Metrics.Enabled {
		rc.Metrics = a.metrics.Handler()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(h, rc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down server...")
	}

	// SSE-Verbindungen vor dem Shutdown schließen
	a.hub.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
	return nil
}
