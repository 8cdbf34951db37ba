package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver normalizes a configured driver name to the database/sql name.
func Driver(name string) string {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql":
		return "postgres"
	default:
		return strings.ToLower(name)
	}
}

// Open connects to the database and verifies the connection.
func Open(driver, dsn string) (*sql.DB, error) {
	driver = Driver(driver)
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must be provided", driver)
	}

	switch driver {
	case "sqlite3", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// a single connection keeps ":memory:" databases shared
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch Driver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				file_name TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				size INTEGER NOT NULL,
				blob_url TEXT NOT NULL,
				session_id TEXT NOT NULL,
				upload_time_ms INTEGER NOT NULL,
				analysis TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_upload_time ON documents(upload_time_ms DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id VARCHAR(255) NOT NULL,
				name VARCHAR(512) NOT NULL,
				file_name VARCHAR(512) NOT NULL,
				mime_type VARCHAR(255) NOT NULL,
				size BIGINT NOT NULL,
				blob_url TEXT NOT NULL,
				session_id VARCHAR(255) NOT NULL,
				upload_time_ms BIGINT NOT NULL,
				analysis LONGTEXT NULL,
				PRIMARY KEY (id),
				INDEX idx_documents_session (session_id),
				INDEX idx_documents_upload_time (upload_time_ms)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				file_name TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				size BIGINT NOT NULL,
				blob_url TEXT NOT NULL,
				session_id TEXT NOT NULL,
				upload_time_ms BIGINT NOT NULL,
				analysis TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_upload_time ON documents(upload_time_ms DESC)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
