package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"face-attendance/config"
	"face-attendance/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN opens a private in-memory database, used by tests and the one-shot CLI.
const MemoryDSN = ":memory:"

// DB ist die globale Datenbankverbindung
var DB *gorm.DB

// Initialize opens the ledger configured in cfg and stores it in DB.
func Initialize(cfg *config.Config) error {
	conn, err := Open(cfg.DB.File)
	if err != nil {
		return err
	}
	DB = conn
	return nil
}

// Open connects to the SQLite file at path and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database file is not configured")
	}
	if path != MemoryDSN {
		dbDir := filepath.Dir(path)
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			log.Errorf("Failed to create database directory '%s': %v", dbDir, err)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", path)

	dsn := path
	if path != MemoryDSN {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Errorf("Failed to connect to database: %v", err)
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if path == MemoryDSN {
		// jede Verbindung hätte sonst ihre eigene leere Datenbank
		sqlDB.SetMaxOpenConns(1)
	} else {
		// SQLite serialisiert Schreibzugriffe ohnehin
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("Running database migrations...")
	if err := conn.AutoMigrate(
		&models.Student{},
		&models.AttendanceRecord{},
		&models.PendingOperation{},
	); err != nil {
		log.Errorf("Database migration failed: %v", err)
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database migrations completed successfully")
	return conn, nil
}

// GetDB gibt die initialisierte GORM-DB-Instanz zurück
func GetDB() (*gorm.DB, error) {
	if DB == nil {
		return nil, fmt.Errorf("database is not initialized")
	}
	return DB, nil
}

// Close releases the global connection.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
