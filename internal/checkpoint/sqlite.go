package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

var errStoreClosed = errors.New("journal store is closed")

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens or creates the journal at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS items (
		destination TEXT NOT NULL,
		name TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (destination, name)
	);

	CREATE INDEX IF NOT EXISTS idx_items_status ON items(destination, status);
	`

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(query)
		return err
	})
}

// GetItem returns the record for name at destination, or nil when absent
func (s *SQLiteStore) GetItem(destination, name string) (*ItemRecord, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}

	var result *ItemRecord
	err := s.retryOnBusy(func() error {
		var err error
		result, err = s.getItemInternal(destination, name)
		return err
	})
	return result, err
}

func (s *SQLiteStore) getItemInternal(destination, name string) (*ItemRecord, error) {
	query := `
	SELECT destination, name, batch_id, size, status, attempts, last_error, updated_at
	FROM items WHERE destination = ? AND name = ?
	`

	record, err := scanItem(s.db.QueryRow(query, destination, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// SaveItem inserts or updates a record
func (s *SQLiteStore) SaveItem(record *ItemRecord) error {
	if s.closed.Load() {
		return errStoreClosed
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveItemWithTransaction(record)
	})
}

func (s *SQLiteStore) saveItemWithTransaction(record *ItemRecord) error {
	record.UpdatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO items
	(destination, name, batch_id, size, status, attempts, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(destination, name) DO UPDATE SET
		batch_id = excluded.batch_id,
		size = excluded.size,
		status = excluded.status,
		attempts = excluded.attempts,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`

	_, err = tx.Exec(query,
		record.Destination,
		record.Name,
		record.BatchID,
		record.Size,
		string(record.Status),
		record.Attempts,
		record.LastError,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// SucceededNames returns the names already stored at destination
func (s *SQLiteStore) SucceededNames(destination string) (map[string]struct{}, error) {
	records, err := s.listItemsByStatus(destination, StatusCompleted)
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(records))
	for _, r := range records {
		names[r.Name] = struct{}{}
	}
	return names, nil
}

// ListFailedItems returns items whose last attempt failed
func (s *SQLiteStore) ListFailedItems(destination string) ([]*ItemRecord, error) {
	return s.listItemsByStatus(destination, StatusFailed)
}

func (s *SQLiteStore) listItemsByStatus(destination string, status ItemStatus) ([]*ItemRecord, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}

	query := `
	SELECT destination, name, batch_id, size, status, attempts, last_error, updated_at
	FROM items WHERE destination = ? AND status = ?
	ORDER BY updated_at ASC, name ASC
	`

	var records []*ItemRecord
	err := s.retryOnBusy(func() error {
		records = nil

		rows, err := s.db.Query(query, destination, string(status))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanItem(rows)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return rows.Err()
	})
	return records, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*ItemRecord, error) {
	var record ItemRecord
	var status string
	var lastError sql.NullString

	err := row.Scan(
		&record.Destination,
		&record.Name,
		&record.BatchID,
		&record.Size,
		&status,
		&record.Attempts,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = ItemStatus(status)
	if lastError.Valid {
		record.LastError = lastError.String
	}
	return &record, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const (
		maxRetries = 10
		baseDelay  = 50 * time.Millisecond
	)

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) || attempt == maxRetries-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(attempt*10) * time.Millisecond
		time.Sleep(delay + jitter)
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
