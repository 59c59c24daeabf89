// Copyright 2024 CarbonAI Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history persists orchestrator results so they can be listed later.
// It supports JSON-lines file storage, SQLite storage and a no-op backend.
package history

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/your-org/carbonai/internal/carbon"
)

const (
	StorageTypeNone   = "none"
	StorageTypeFile   = "file"
	StorageTypeSQLite = "sqlite"
)

// DefaultListLimit is used when List is called with a non-positive limit
const DefaultListLimit = 50

// maxLineSize bounds a single JSON line in file storage
const maxLineSize = 1 << 20

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("history store is closed")

// Entry is one persisted result
type Entry struct {
	ID        string          `json:"id"`
	Kind      carbon.Kind     `json:"kind"`
	Source    carbon.Source   `json:"source"`
	RequestID string          `json:"request_id,omitempty"`
	Result    json.RawMessage `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEntry captures a result for storage
func NewEntry(requestID string, result carbon.Result) (Entry, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal %s result: %w", result.Kind(), err)
	}
	return Entry{
		Kind:      result.Kind(),
		Source:    result.Origin(),
		RequestID: requestID,
		Result:    data,
	}, nil
}

// Config holds configuration for result history
type Config struct {
	StorageType string `json:"storage_type"`
	FilePath    string `json:"file_path"`
	DBPath      string `json:"db_path"`
}

// Store records and lists results on the configured backend
type Store struct {
	config Config
	logger *zap.Logger
	db     *sql.DB
	closed bool
	mu     sync.RWMutex
}

// NewStore opens the configured backend, creating files and tables as needed
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		config: config,
		logger: logger,
	}

	switch config.StorageType {
	case StorageTypeNone:
	case StorageTypeFile:
		if err := s.initFileStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
	case StorageTypeSQLite:
		if err := s.initSQLiteStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	logger.Info("History store initialized", zap.String("storage_type", config.StorageType))
	return s, nil
}

// StorageType returns the active backend name
func (s *Store) StorageType() string {
	return s.config.StorageType
}

func (s *Store) initFileStorage() error {
	dir := filepath.Dir(s.config.FilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	file, err := os.OpenFile(s.config.FilePath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	return file.Close()
}

func (s *Store) initSQLiteStorage() error {
	dir := filepath.Dir(s.config.DBPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create history database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS results (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			request_id TEXT,
			result TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_timestamp ON results (timestamp);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create results table: %w", err)
	}

	s.db = db
	return nil
}

// Record stores an entry, assigning an ID and timestamp when they are unset.
// It returns the stored entry.
func (s *Store) Record(ctx context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Entry{}, ErrClosed
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if len(entry.Result) == 0 {
		entry.Result = json.RawMessage("null")
	}

	var err error
	switch s.config.StorageType {
	case StorageTypeNone:
		return entry, nil
	case StorageTypeFile:
		err = s.recordToFile(entry)
	case StorageTypeSQLite:
		err = s.recordToSQLite(ctx, entry)
	default:
		err = fmt.Errorf("unsupported storage type: %s", s.config.StorageType)
	}
	if err != nil {
		return Entry{}, err
	}

	s.logger.Debug("Result recorded",
		zap.String("id", entry.ID),
		zap.String("kind", string(entry.Kind)),
		zap.String("source", string(entry.Source)),
		zap.String("storage_type", s.config.StorageType))

	return entry, nil
}

func (s *Store) recordToFile(entry Entry) error {
	file, err := os.OpenFile(s.config.FilePath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer func() { _ = file.Close() }()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write history entry to file: %w", err)
	}
	return nil
}

func (s *Store) recordToSQLite(ctx context.Context, entry Entry) error {
	insertSQL := `
		INSERT INTO results (id, kind, source, request_id, result, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, insertSQL,
		entry.ID,
		string(entry.Kind),
		string(entry.Source),
		entry.RequestID,
		string(entry.Result),
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry into SQLite: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. The none backend always
// returns an empty list.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	switch s.config.StorageType {
	case StorageTypeNone:
		return []Entry{}, nil
	case StorageTypeFile:
		return s.listFromFile(limit)
	case StorageTypeSQLite:
		return s.listFromSQLite(ctx, limit)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.config.StorageType)
	}
}

func (s *Store) listFromFile(limit int) ([]Entry, error) {
	file, err := os.Open(s.config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			s.logger.Warn("Skipping malformed history line",
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	// The file is append-only, so newest entries are last.
	result := make([]Entry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i])
	}
	return result, nil
}

func (s *Store) listFromSQLite(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, kind, source, request_id, result, timestamp
		FROM results
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		var kind, source, result string
		var requestID sql.NullString

		if err := rows.Scan(&entry.ID, &kind, &source, &requestID, &result, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		entry.Kind = carbon.Kind(kind)
		entry.Source = carbon.Source(source)
		entry.Result = json.RawMessage(result)
		if requestID.Valid {
			entry.RequestID = requestID.String
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}

	return entries, nil
}

// Ping verifies the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	switch s.config.StorageType {
	case StorageTypeFile:
		if _, err := os.Stat(s.config.FilePath); err != nil {
			return fmt.Errorf("history file unavailable: %w", err)
		}
	case StorageTypeSQLite:
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("history database unavailable: %w", err)
		}
	}
	return nil
}

// Close closes the store and any open resources
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
