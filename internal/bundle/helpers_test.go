package bundle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sequencer/internal/clock"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/models"
)

type fakeGateway struct {
	height uint64
	err    error
}

func (g *fakeGateway) Height(context.Context) (uint64, error) { return g.height, g.err }

func newSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return crypto.NewEd25519Signer(crypto.NewWallet(priv))
}

func signedItem(t *testing.T, typ, target string, data []byte) *DataItem {
	t.Helper()
	it := &DataItem{
		Target: target,
		Anchor: "anchor-1",
		Tags: []models.Tag{
			{Name: TypeTag, Value: typ},
			{Name: "Action", Value: "Transfer"},
		},
		Data: data,
	}
	require.NoError(t, it.Sign(newSigner(t)))
	return it
}

func rawItem(t *testing.T, it *DataItem) []byte {
	t.Helper()
	raw, err := json.Marshal(it)
	require.NoError(t, err)
	return raw
}

func newTestBuilder(t *testing.T, gw *fakeGateway) *Builder {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	wallet := crypto.NewWallet(priv)
	fixed := time.UnixMilli(1_700_000_000_000)
	b, err := NewBuilder(wallet, nil, clock.NewOracle(gw, func() time.Time { return fixed }), nil)
	require.NoError(t, err)
	return b
}
