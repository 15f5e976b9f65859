package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/eldtechnologies/sequencer/internal/metrics"
	"github.com/eldtechnologies/sequencer/internal/models"
)

var (
	ErrDuplicate    = errors.New("duplicate id")
	ErrNotFound     = errors.New("not found")
	ErrWriteFailure = errors.New("store write failed")
)

// DataStore is the durable local index of messages and processes.
// It is append-only: there is no update or delete. Saving an id that already
// exists returns ErrDuplicate and leaves the stored value unchanged.
// SQLiteStore, PostgresStore and RedisStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetMessages(ctx context.Context, processID string) ([]models.Message, error)

	// Process operations
	SaveProcess(ctx context.Context, p *models.Process) error
	GetProcess(ctx context.Context, id string) (*models.Process, error)
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func encodeTags(tags []models.Tag) ([]byte, error) {
	return json.Marshal(tags)
}

func decodeTags(b []byte) ([]models.Tag, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var tags []models.Tag
	if err := json.Unmarshal(b, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
