package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eldtechnologies/sequencer/internal/clock"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/metrics"
)

// Builder turns raw client input into a signed, anchored bundle.
// A Builder is safe for concurrent use.
type Builder struct {
	wallet    crypto.Wallet
	signer    crypto.Signer
	oracle    *clock.Oracle
	sequencer *Sequencer
}

// NewBuilder wires the builder's capabilities. A nil signer signs with the wallet key.
func NewBuilder(wallet crypto.Wallet, signer crypto.Signer, oracle *clock.Oracle, seq *Sequencer) (*Builder, error) {
	if wallet == nil {
		return nil, ErrNoKeyMaterial
	}
	if oracle == nil {
		return nil, errors.New("builder: nil oracle")
	}
	if signer == nil {
		signer = crypto.NewEd25519Signer(wallet)
	}
	if seq == nil {
		seq = NewSequencer()
	}
	return &Builder{wallet: wallet, signer: signer, oracle: oracle, sequencer: seq}, nil
}

// Build parses raw, anchors it to the current ledger height, assigns a sequence
// key and signs the result. The ledger query is bounded by ctx.
//
// For identical input and key material the bundle structure is identical; the
// anchor (timestamp, height) and sequence key change between attempts.
func (b *Builder) Build(ctx context.Context, raw []byte) (*BuildResult, error) {
	item, err := ParseDataItem(raw)
	if err != nil {
		return nil, &BuildError{Stage: "parse", Err: err}
	}

	if _, err := b.wallet.PrivateKey(); err != nil {
		return nil, &BuildError{Stage: "key", Err: err}
	}
	owner, err := b.signer.Owner()
	if err != nil {
		return nil, &BuildError{Stage: "key", Err: err}
	}

	stamp, err := b.oracle.Now(ctx)
	if err != nil {
		return nil, &BuildError{Stage: "anchor", Err: fmt.Errorf("%w: %w", ErrAnchorUnavailable, err)}
	}

	seq, err := b.sequencer.Next(time.UnixMilli(stamp.Millis))
	if err != nil {
		return nil, &BuildError{Stage: "sequence", Err: err}
	}

	bd := &Bundle{
		Owner:       owner,
		Timestamp:   stamp.Millis,
		BlockHeight: stamp.Height,
		SequenceKey: seq,
		Item:        *item,
	}

	sig, err := b.signer.Sign(bd.SigningPayload())
	if err != nil {
		return nil, &BuildError{Stage: "sign", Err: err}
	}
	bd.Signature = sig
	if bd.ID, err = signatureID(sig); err != nil {
		return nil, &BuildError{Stage: "sign", Err: err}
	}

	metrics.BundlesBuilt.Inc()
	return &BuildResult{Binary: bd.Encode(), Bundle: bd}, nil
}

// Owner returns the public key bundles are signed with.
func (b *Builder) Owner() (string, error) {
	return b.signer.Owner()
}
