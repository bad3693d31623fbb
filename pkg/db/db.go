// Package db persists the audit trail of generated and executed commands.
// SQLite is the default backend; PostgreSQL and MySQL are supported for
// shared deployments.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cloudnav-ai/cloudnav/pkg/config"
	"github.com/cloudnav-ai/cloudnav/pkg/log"
)

// DB wraps the sql handle with the dialect it speaks.
type DB struct {
	conn   *sql.DB
	dbType string
}

// Init opens the SQLite database at path, creating parent directories as
// needed.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, dbType: "sqlite"}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Infof("audit database ready (sqlite, %s)", path)
	return db, nil
}

// InitWithConfig opens the backend named by the storage configuration.
func InitWithConfig(cfg *config.Config) (*DB, error) {
	switch cfg.Storage.DBType {
	case "", "sqlite":
		return Init(cfg.GetEffectiveDBPath())
	case "postgres":
		return initServer("postgres", postgresDSN(&cfg.Storage))
	case "mysql":
		return initServer("mysql", mysqlDSN(&cfg.Storage))
	default:
		return nil, fmt.Errorf("unsupported db_type %q (sqlite, postgres, mysql)", cfg.Storage.DBType)
	}
}

func initServer(dbType, dsn string) (*DB, error) {
	conn, err := sql.Open(dbType, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbType, err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to %s database: %w", dbType, err)
	}

	db := &DB{conn: conn, dbType: dbType}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Infof("audit database ready (%s)", dbType)
	return db, nil
}

func postgresDSN(s *config.StorageConfig) string {
	host := s.DBHost
	if host == "" {
		host = "localhost"
	}
	port := s.DBPort
	if port == 0 {
		port = 5432
	}
	sslmode := s.DBSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, s.DBUser, s.DBPassword, s.DBName, sslmode)
}

func mysqlDSN(s *config.StorageConfig) string {
	host := s.DBHost
	if host == "" {
		host = "localhost"
	}
	port := s.DBPort
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		s.DBUser, s.DBPassword, host, port, s.DBName)
}

// placeholder renders the n-th (1-based) parameter marker for the dialect.
func (d *DB) placeholder(n int) string {
	if d.dbType == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d *DB) migrate() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	switch d.dbType {
	case "postgres":
		pk = "BIGSERIAL PRIMARY KEY"
	case "mysql":
		pk = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_log (
		id %s,
		created_at TIMESTAMP NOT NULL,
		conversation_id VARCHAR(64) NOT NULL,
		client_ip VARCHAR(64) NOT NULL,
		prompt TEXT NOT NULL,
		tool VARCHAR(16) NOT NULL,
		command TEXT NOT NULL,
		verdict VARCHAR(32) NOT NULL,
		exit_code INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error_msg TEXT NOT NULL,
		duration_ms BIGINT NOT NULL
	)`, pk)
	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("create audit_log table: %w", err)
	}

	if _, err := d.conn.Exec(
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log (created_at)`); err != nil && d.dbType != "mysql" {
		// MySQL has no IF NOT EXISTS for indexes; a duplicate there is fine.
		return fmt.Errorf("create audit index: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
