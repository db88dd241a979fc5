package repository

import (
	"database/sql"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres connects to PostgreSQL using lib/pq. Empty config fields fall
// back to local-development defaults.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		orDefault(cfg.PostgresHost, "localhost"),
		orDefaultInt(cfg.PostgresPort, 5432),
		cfg.PostgresUser,
		cfg.PostgresPassword,
		orDefault(cfg.PostgresDB, "kestrel"),
		orDefault(cfg.PostgresSSLMode, "disable"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
