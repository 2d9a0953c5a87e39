// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// AuditStore persists decision records to SQLite for offline review. It is
// additive: the in-memory history ring stays authoritative, and the store is
// disabled unless configured on.
type AuditStore struct {
	mu            sync.Mutex
	db            *sql.DB
	dbPath        string
	retentionDays int
}

// NewAuditStore creates a store for the given database path.
func NewAuditStore(dbPath string, retentionDays int) (*AuditStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &AuditStore{dbPath: dbPath, retentionDays: retentionDays}, nil
}

// Initialize opens the database and creates the schema.
func (s *AuditStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		action TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		confidence REAL NOT NULL,
		risk_level REAL NOT NULL,
		routine TEXT,
		memory_pressure REAL,
		error_rate REAL,
		open_breakers INTEGER,
		latency_p95_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.db = db
	log.Infof("decision audit store initialized (db: %s, retention: %d days)", s.dbPath, s.retentionDays)

	return s.pruneLocked(ctx)
}

// Insert persists one decision record.
func (s *AuditStore) Insert(d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("audit store not initialized")
	}

	_, err := s.db.Exec(
		`INSERT INTO decisions (created_at, action, reasoning, confidence, risk_level, routine, memory_pressure, error_rate, open_breakers, latency_p95_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CreatedAt, string(d.Action), d.Reasoning, d.Confidence, d.RiskLevel, d.Routine,
		d.Signals.MemoryPressure, d.Signals.ErrorRate, d.Signals.OpenBreakers, d.Signals.LatencyP95Ms,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// Prune deletes records older than the retention window.
func (s *AuditStore) Prune(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(ctx)
}

func (s *AuditStore) pruneLocked(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("audit store not initialized")
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune decisions: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Debugf("pruned %d audit records older than %d days", n, s.retentionDays)
	}
	return nil
}

// Close releases the database handle.
func (s *AuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// setDB injects a database handle. Test use only (sqlmock).
func (s *AuditStore) setDB(db *sql.DB) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
}
