package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sequencer/internal/cidutil"
)

func TestUploadGetHeight(t *testing.T) {
	ctx := context.Background()
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	h, err := l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	r, err := l.Upload(ctx, []byte("bundle-a"))
	require.NoError(t, err)
	assert.Equal(t, cidutil.String([]byte("bundle-a")), r.ID)
	assert.Equal(t, receiptVersion, r.Version)

	got, err := l.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle-a"), got)

	h, err = l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h)
}

func TestUploadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := l.Upload(ctx, []byte("same"))
			assert.NoError(t, err)
			if r != nil {
				ids[i] = r.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	h, err := l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h)
}

func TestOpenCountsExistingBundles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	l, err := Open(root)
	require.NoError(t, err)
	for _, b := range []string{"a", "b", "c"} {
		_, err := l.Upload(ctx, []byte(b))
		require.NoError(t, err)
	}

	reopened, err := Open(root)
	require.NoError(t, err)
	h, err := reopened.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h)
}

func TestGetErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l, err := Open(root)
	require.NoError(t, err)

	_, err = l.Get(ctx, "not-a-cid")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = l.Get(ctx, cidutil.String([]byte("absent")))
	assert.ErrorIs(t, err, ErrNotFound)

	r, err := l.Upload(ctx, []byte("original"))
	require.NoError(t, err)

	id := cidutil.String([]byte("original"))
	path := filepath.Join(root, id[len(id)-2:], id)
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))

	_, err = l.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrCIDMismatch)

	_, err = l.Upload(ctx, []byte("original"))
	assert.ErrorIs(t, err, ErrImmutable)
}

func TestCanceledContext(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Upload(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = l.Height(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
