package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/sequencer/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/sequencer.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/sequencer.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func sqliteWriteError(err error, id string) error {
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	return fmt.Errorf("%w: %v", ErrWriteFailure, err)
}

// SaveMessage inserts msg. An existing id is left untouched.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	defer observe("save_message", time.Now())

	tags, err := encodeTags(msg.Tags)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, process_id, sequence_key, owner, tags, payload, signature, bundle_reference, timestamp, block_height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ProcessID, msg.SequenceKey, msg.Owner, string(tags), msg.Payload,
		msg.Signature, msg.BundleReference, msg.Timestamp, msg.BlockHeight)
	if err != nil {
		return sqliteWriteError(err, msg.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const messageColumns = `id, process_id, sequence_key, owner, tags, payload, signature, bundle_reference, timestamp, block_height`

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var tags string
	err := row.Scan(
		&msg.ID,
		&msg.ProcessID,
		&msg.SequenceKey,
		&msg.Owner,
		&tags,
		&msg.Payload,
		&msg.Signature,
		&msg.BundleReference,
		&msg.Timestamp,
		&msg.BlockHeight,
	)
	if err != nil {
		return nil, err
	}
	if msg.Tags, err = decodeTags([]byte(tags)); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observe("get_message", time.Now())

	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
		}
		return nil, err
	}
	return msg, nil
}

// GetMessages returns every message of a process in no particular order.
func (s *SQLiteStore) GetMessages(ctx context.Context, processID string) ([]models.Message, error) {
	defer observe("get_messages", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE process_id = ?`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// SaveProcess inserts p. An existing id is left untouched.
func (s *SQLiteStore) SaveProcess(ctx context.Context, p *models.Process) error {
	defer observe("save_process", time.Now())

	tags, err := encodeTags(p.Tags)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processes (id, owner, tags, initial_payload, signature, creation_bundle_reference, timestamp, block_height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Owner, string(tags), p.InitialPayload, p.Signature,
		p.CreationBundleReference, p.Timestamp, p.BlockHeight)
	if err != nil {
		return sqliteWriteError(err, p.ID)
	}
	return nil
}

// GetProcess retrieves a process by ID.
func (s *SQLiteStore) GetProcess(ctx context.Context, id string) (*models.Process, error) {
	defer observe("get_process", time.Now())

	p := &models.Process{}
	var tags string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, tags, initial_payload, signature, creation_bundle_reference, timestamp, block_height
		FROM processes WHERE id = ?
	`, id).Scan(
		&p.ID,
		&p.Owner,
		&tags,
		&p.InitialPayload,
		&p.Signature,
		&p.CreationBundleReference,
		&p.Timestamp,
		&p.BlockHeight,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: process %s", ErrNotFound, id)
		}
		return nil, err
	}
	if p.Tags, err = decodeTags([]byte(tags)); err != nil {
		return nil, err
	}
	return p, nil
}
