package models

import (
	"time"
)

// PendingOperation is a collection change that could not reach the face capability
// and is retried by the sync service.
type PendingOperation struct {
	ID            uint      `gorm:"primaryKey"`
	OperationType string    `gorm:"index;not null"`
	ResourceType  string    `gorm:"index;not null"`
	ResourceName  string    `gorm:"not null"` // identity key in the collection
	CollectionID  string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
	LastAttempt   time.Time
	NextAttempt   time.Time `gorm:"index"`
	Retries       int       `gorm:"default:0"`
	MaxRetries    int       `gorm:"default:5"`
	LastError     string
	Status        string `gorm:"index;default:'pending'"`
}

const (
	POTypeDeleteIdentity = "delete_identity"
)

const (
	POStatusPending   = "pending"
	POStatusFailed    = "failed"
	POStatusCompleted = "completed"
	POStatusCancelled = "cancelled"
)

const (
	POResourceIdentity = "identity"
)
