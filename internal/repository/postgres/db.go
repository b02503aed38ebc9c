package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// Open настраивает общий пул соединений для всех репозиториев.
// Доступность базы здесь не проверяется — main делает PingContext
// с таймаутом при старте.
func Open(url string, maxConns, minConns int32) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(int(maxConns))
	db.SetMaxIdleConns(int(minConns))
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
