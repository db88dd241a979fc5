package domain

import (
	"context"
	"time"
)

// Repository persists the scoring audit log. The serving path treats it as
// best-effort: a failed save is logged, never an error to the caller.
type Repository interface {
	// SavePrediction stores a scored transaction.
	SavePrediction(ctx context.Context, rec *PredictionRecord) error

	// GetPrediction retrieves a prediction record by ID.
	GetPrediction(ctx context.Context, id string) (*PredictionRecord, error)

	// ListPredictions returns the most recent prediction records.
	ListPredictions(ctx context.Context, limit int) ([]*PredictionRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
