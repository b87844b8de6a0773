package main

import (
	"fmt"
	"os"

	"face-attendance/config"
	"face-attendance/internal/logger"
	"face-attendance/internal/util/timezone"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/config/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Classroom attendance from face recognition",
	Long: `face-attendance detects every face in a classroom photo, resolves each face
against the enrolled students and records attendance once per student, subject and day.`,
	SilenceUsage: true,
	// ohne Unterbefehl wird der Server gestartet
	RunE: runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the YAML config file")
}

func initEnv() {
	// .env ist optional
	_ = godotenv.Load()
}

// loadConfig reads the configuration and initializes logging and the timezone.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	timezone.Initialize(cfg.Server.Timezone)
	return cfg, nil
}
