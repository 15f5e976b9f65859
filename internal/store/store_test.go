package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sequencer/internal/models"
)

func newSQLite(t *testing.T) DataStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newPostgres(t *testing.T) DataStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newRedis(t *testing.T) DataStore {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

var backends = map[string]func(t *testing.T) DataStore{
	"sqlite":   newSQLite,
	"postgres": newPostgres,
	"redis":    newRedis,
}

// unique ids keep the shared Postgres and Redis backends isolated between runs.
func uid(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func testMessage(processID, key string) *models.Message {
	return &models.Message{
		ID:              uid("msg"),
		ProcessID:       processID,
		SequenceKey:     key,
		Owner:           "b3duZXI=",
		Tags:            []models.Tag{{Name: "Type", Value: "Message"}, {Name: "Action", Value: "Eval"}},
		Payload:         []byte{0x00, 0x01, 0xff},
		Signature:       "c2ln",
		BundleReference: uid("bundle"),
		Timestamp:       1_700_000_000_123,
		BlockHeight:     "000001387654",
	}
}

func testProcess() *models.Process {
	return &models.Process{
		ID:                      uid("proc"),
		Owner:                   "b3duZXI=",
		Tags:                    []models.Tag{{Name: "Type", Value: "Process"}},
		InitialPayload:          []byte("module"),
		Signature:               "c2ln",
		CreationBundleReference: uid("bundle"),
		Timestamp:               1_700_000_000_000,
		BlockHeight:             "000000000001",
	}
}

func TestDataStore(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("message round trip", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				msg := testMessage(uid("proc"), "01")

				require.NoError(t, s.SaveMessage(ctx, msg))
				got, err := s.GetMessage(ctx, msg.ID)
				require.NoError(t, err)
				assert.Equal(t, msg, got)
			})

			t.Run("process round trip", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				p := testProcess()

				require.NoError(t, s.SaveProcess(ctx, p))
				got, err := s.GetProcess(ctx, p.ID)
				require.NoError(t, err)
				assert.Equal(t, p, got)
			})

			t.Run("duplicate leaves value unchanged", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				msg := testMessage(uid("proc"), "01")
				require.NoError(t, s.SaveMessage(ctx, msg))

				other := *msg
				other.Payload = []byte("replaced")
				assert.ErrorIs(t, s.SaveMessage(ctx, &other), ErrDuplicate)

				got, err := s.GetMessage(ctx, msg.ID)
				require.NoError(t, err)
				assert.Equal(t, msg.Payload, got.Payload)

				p := testProcess()
				require.NoError(t, s.SaveProcess(ctx, p))
				assert.ErrorIs(t, s.SaveProcess(ctx, p), ErrDuplicate)
			})

			t.Run("not found", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				_, err := s.GetMessage(ctx, uid("missing"))
				assert.ErrorIs(t, err, ErrNotFound)
				_, err = s.GetProcess(ctx, uid("missing"))
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("messages by process", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				pid := uid("proc")

				want := map[string]bool{}
				for i := 0; i < 5; i++ {
					msg := testMessage(pid, fmt.Sprintf("%02d", i))
					require.NoError(t, s.SaveMessage(ctx, msg))
					want[msg.ID] = true
				}
				require.NoError(t, s.SaveMessage(ctx, testMessage(uid("proc"), "00")))

				got, err := s.GetMessages(ctx, pid)
				require.NoError(t, err)
				require.Len(t, got, len(want))
				for _, m := range got {
					assert.True(t, want[m.ID], m.ID)
					assert.Equal(t, pid, m.ProcessID)
				}

				empty, err := s.GetMessages(ctx, uid("proc"))
				require.NoError(t, err)
				assert.Empty(t, empty)
			})

			t.Run("concurrent writers of one id", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				msg := testMessage(uid("proc"), "01")

				const writers = 8
				errs := make([]error, writers)
				var wg sync.WaitGroup
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						m := *msg
						m.Payload = []byte{byte(i)}
						errs[i] = s.SaveMessage(ctx, &m)
					}(i)
				}
				wg.Wait()

				winners := 0
				for _, err := range errs {
					if err == nil {
						winners++
						continue
					}
					assert.ErrorIs(t, err, ErrDuplicate)
				}
				assert.Equal(t, 1, winners)

				all, err := s.GetMessages(ctx, msg.ProcessID)
				require.NoError(t, err)
				assert.Len(t, all, 1)
			})
		})
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	p := testProcess()
	require.NoError(t, s.SaveProcess(ctx, p))
	s.Close()

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRedisReceipts(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	key := uid("idem")
	got, err := s.GetReceipt(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	r := &models.Receipt{ID: "ledger-tx", Timestamp: 42}
	require.NoError(t, s.PutReceipt(ctx, key, r))
	got, err = s.GetReceipt(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}
