package main

import (
	"database/sql"
	"fmt"

	commoncfg "xhale-breath/common/config"
	"xhale-breath/common/database"
	"xhale-breath/internal/repository"

	"go.uber.org/zap"
)

// openSessionRepository connects with the DB_* environment; tests replace it
var openSessionRepository = func() (*repository.SessionRepository, func(), error) {
	dbCfg := &commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "xhale",
		SSLMode:  "disable",
	}
	dbCfg.LoadFromEnv("DB")

	db, err := database.NewPostgresDB(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return repository.NewSessionRepository(db, zap.NewNop()), closer(db), nil
}

func closer(db *sql.DB) func() {
	return func() { _ = database.Close(db) }
}
