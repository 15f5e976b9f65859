// Package ledger is a local, filesystem-backed stand-in for the remote ledger.
// It accepts uploads, reports a height and serves stored bundles back, so the
// sequencer can run without network access.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/eldtechnologies/sequencer/internal/cidutil"
	"github.com/eldtechnologies/sequencer/internal/models"
)

var (
	ErrNotFound    = errors.New("ledger: not found")
	ErrInvalidID   = errors.New("ledger: invalid id")
	ErrCIDMismatch = errors.New("ledger: cid mismatch")
	ErrImmutable   = errors.New("ledger: immutable object mismatch")
)

const receiptVersion = "local-1"

// Local stores bundles immutably, keyed by the CID of their bytes.
// Height is the number of distinct bundles stored.
type Local struct {
	root string
	now  func() time.Time

	mu     sync.Mutex
	height uint64
}

// Open creates or opens a ledger rooted at root.
func Open(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("ledger: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	var n uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && cidutil.Valid(d.Name()) {
			n++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Local{root: root, now: time.Now, height: n}, nil
}

// Upload stores binary and returns a receipt whose id is the binary's CID.
// Uploading the same bytes again returns the same id and leaves the height unchanged.
func (l *Local) Upload(ctx context.Context, binary []byte) (*models.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := l.put(binary)
	if err != nil {
		return nil, err
	}
	return &models.Receipt{
		ID:        id.String(),
		Timestamp: l.now().UnixMilli(),
		Version:   receiptVersion,
	}, nil
}

// Height returns the number of bundles stored.
func (l *Local) Height(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height, nil
}

// Get returns the bundle stored under id.
func (l *Local) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := cid.Decode(id)
	if err != nil || !c.Defined() {
		return nil, ErrInvalidID
	}

	b, err := os.ReadFile(l.pathFor(c))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	got, err := cidutil.Sum(b)
	if err != nil {
		return nil, err
	}
	if !got.Equals(c) {
		return nil, ErrCIDMismatch
	}
	return b, nil
}

func (l *Local) put(binary []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(binary)
	if err != nil {
		return cid.Undef, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil || !bytes.Equal(existing, binary) {
				return cid.Undef, ErrImmutable
			}
			return id, nil
		}
		return cid.Undef, err
	}

	if _, err := f.Write(binary); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return cid.Undef, err
	}

	l.height++
	return id, nil
}

func (l *Local) pathFor(id cid.Cid) string {
	s := id.String()
	return filepath.Join(l.root, s[len(s)-2:], s)
}
