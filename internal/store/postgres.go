package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/sequencer/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func postgresWriteError(err error, id string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	return fmt.Errorf("%w: %v", ErrWriteFailure, err)
}

// SaveMessage inserts msg. An existing id is left untouched.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	defer observe("save_message", time.Now())

	tags, err := encodeTags(msg.Tags)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, process_id, sequence_key, owner, tags, payload, signature, bundle_reference, timestamp, block_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, msg.ID, msg.ProcessID, msg.SequenceKey, msg.Owner, string(tags), msg.Payload,
		msg.Signature, msg.BundleReference, msg.Timestamp, msg.BlockHeight)
	if err != nil {
		return postgresWriteError(err, msg.ID)
	}
	return nil
}

func scanPostgresMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var tags []byte
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
	if msg.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observe("get_message", time.Now())

	msg, err := scanPostgresMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
		}
		return nil, err
	}
	return msg, nil
}

// GetMessages returns every message of a process in no particular order.
func (s *PostgresStore) GetMessages(ctx context.Context, processID string) ([]models.Message, error) {
	defer observe("get_messages", time.Now())

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE process_id = $1`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// SaveProcess inserts p. An existing id is left untouched.
func (s *PostgresStore) SaveProcess(ctx context.Context, p *models.Process) error {
	defer observe("save_process", time.Now())

	tags, err := encodeTags(p.Tags)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO processes (id, owner, tags, initial_payload, signature, creation_bundle_reference, timestamp, block_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Owner, string(tags), p.InitialPayload, p.Signature,
		p.CreationBundleReference, p.Timestamp, p.BlockHeight)
	if err != nil {
		return postgresWriteError(err, p.ID)
	}
	return nil
}

// GetProcess retrieves a process by ID.
func (s *PostgresStore) GetProcess(ctx context.Context, id string) (*models.Process, error) {
	defer observe("get_process", time.Now())

	p := &models.Process{}
	var tags []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner, tags, initial_payload, signature, creation_bundle_reference, timestamp, block_height
		FROM processes WHERE id = $1
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: process %s", ErrNotFound, id)
		}
		return nil, err
	}
	if p.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return p, nil
}
