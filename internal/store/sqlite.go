// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/gps"
	"github.com/relabs-tech/sphere_capture/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a Repository backed by a single SQLite file.
type SQLite struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
	log    *logging.Logger
}

// OpenSQLite opens (or creates) the session database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps Append and Reset serialised
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO session (id, session_id) VALUES (1, ?)`, uuid.NewString()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init session: %w", err)
	}

	s := &SQLite{db: db, log: logging.With("component", "store")}
	s.log.Info("store: opened sqlite session store", "path", path)
	return s, nil
}

func (s *SQLite) handle() (*sql.DB, error) {
	if s == nil || s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *SQLite) Manifest(ctx context.Context) (frame.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return frame.Manifest{}, err
	}

	var m frame.Manifest
	var location sql.NullString
	err = db.QueryRowContext(ctx, `SELECT session_id, location FROM session WHERE id = 1`).Scan(&m.SessionID, &location)
	if err != nil {
		return frame.Manifest{}, fmt.Errorf("read session: %w", err)
	}
	if location.Valid && location.String != "" {
		var fix gps.Fix
		if err := json.Unmarshal([]byte(location.String), &fix); err != nil {
			return frame.Manifest{}, fmt.Errorf("decode location: %w", err)
		}
		m.Location = &fix
	}

	rows, err := db.QueryContext(ctx, `SELECT frame_id, timestamp_ms, yaw, pitch, roll, hfov, target_id FROM frames ORDER BY seq`)
	if err != nil {
		return frame.Manifest{}, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	m.Frames = []frame.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return frame.Manifest{}, err
		}
		m.Frames = append(m.Frames, r)
	}
	return m, rows.Err()
}

// Append writes the record and its image in one transaction.
func (s *SQLite) Append(ctx context.Context, f frame.Frame) error {
	if f.ID == "" {
		return fmt.Errorf("frame id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO frames (frame_id, timestamp_ms, yaw, pitch, roll, hfov, target_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Timestamp, f.Sensors.Yaw, f.Sensors.Pitch, f.Sensors.Roll, f.Camera.HFOV, f.TargetID)
	if err != nil {
		return fmt.Errorf("insert frame %s: %w", f.ID, err)
	}
	if len(f.Image) > 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO images (frame_id, data) VALUES (?, ?)`, f.ID, f.Image); err != nil {
			return fmt.Errorf("insert image %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *SQLite) Image(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var data []byte
	err = db.QueryRowContext(ctx, `SELECT data FROM images WHERE frame_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", id, err)
	}
	return data, nil
}

// Frames returns every record that has image bytes, in capture order.
func (s *SQLite) Frames(ctx context.Context) ([]frame.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT f.frame_id, f.timestamp_ms, f.yaw, f.pitch, f.roll, f.hfov, f.target_id, i.data
		FROM frames f JOIN images i ON i.frame_id = f.frame_id
		WHERE length(i.data) > 0
		ORDER BY f.seq`)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []frame.Frame
	for rows.Next() {
		var f frame.Frame
		if err := rows.Scan(&f.ID, &f.Timestamp, &f.Sensors.Yaw, &f.Sensors.Pitch, &f.Sensors.Roll,
			&f.Camera.HFOV, &f.TargetID, &f.Image); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) SetLocation(ctx context.Context, fix gps.Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.handle()
	if err != nil {
		return err
	}
	b, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	if _, err := db.ExecContext(ctx, `UPDATE session SET location = ? WHERE id = 1`, string(b)); err != nil {
		return fmt.Errorf("set location: %w", err)
	}
	return nil
}

func (s *SQLite) Reset(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.handle()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM images`, `DELETE FROM frames`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return "", fmt.Errorf("reset: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE session SET session_id = ?, location = NULL WHERE id = 1`, id); err != nil {
		return "", fmt.Errorf("reset session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit reset: %w", err)
	}
	s.log.Info("store: session reset", "session", id)
	return id, nil
}

// Close is idempotent.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (frame.Record, error) {
	var r frame.Record
	if err := rows.Scan(&r.ID, &r.Timestamp, &r.Sensors.Yaw, &r.Sensors.Pitch, &r.Sensors.Roll,
		&r.Camera.HFOV, &r.TargetID); err != nil {
		return frame.Record{}, fmt.Errorf("scan record: %w", err)
	}
	return r, nil
}
