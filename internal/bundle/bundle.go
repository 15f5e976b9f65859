// Package bundle builds signed, ledger-anchored bundles from client data items
// and extracts the entities they carry.
package bundle

import (
	"fmt"

	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/models"
)

// Bundle wraps one data item with the sequencer's anchor, sequence key and signature.
type Bundle struct {
	ID          string
	Owner       string // sequencer public key
	Timestamp   int64  // Unix ms
	BlockHeight string
	SequenceKey string
	Item        DataItem
	Signature   string
}

// BuildResult is the output of Builder.Build. Binary is exactly what is uploaded.
type BuildResult struct {
	Binary []byte
	Bundle *Bundle
}

// SigningPayload returns the canonical bytes covered by the bundle signature.
func (b *Bundle) SigningPayload() []byte {
	return appendBundleBody(nil, b)
}

// Encode returns the binary form of the bundle.
func (b *Bundle) Encode() []byte {
	return encodeBundle(b)
}

// Verify checks the sequencer signature, the bundle id and the wrapped item.
func (b *Bundle) Verify() error {
	if err := crypto.Verify(b.Owner, b.SigningPayload(), b.Signature); err != nil {
		return fmt.Errorf("bundle signature: %w", err)
	}
	id, err := signatureID(b.Signature)
	if err != nil {
		return err
	}
	if b.ID != id {
		return fmt.Errorf("%w: bundle id %q does not match signature", ErrMalformedInput, b.ID)
	}
	if err := b.Item.Verify(); err != nil {
		return fmt.Errorf("data item: %w", err)
	}
	return nil
}

// MessageFromBundle extracts the Message carried by b.
func MessageFromBundle(b *Bundle) (*models.Message, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrMalformedInput)
	}
	it := &b.Item
	if it.Type() != TypeMessage {
		return nil, fmt.Errorf("%w: want %s, got %q", ErrWrongType, TypeMessage, it.Type())
	}
	if it.ID == "" || it.Target == "" || b.SequenceKey == "" {
		return nil, fmt.Errorf("%w: message bundle missing id, target or sequence key", ErrMalformedInput)
	}

	return &models.Message{
		ID:              it.ID,
		ProcessID:       it.Target,
		SequenceKey:     b.SequenceKey,
		Owner:           it.Owner,
		Tags:            copyTags(it.Tags),
		Payload:         append([]byte(nil), it.Data...),
		Signature:       it.Signature,
		BundleReference: b.ID,
		Timestamp:       b.Timestamp,
		BlockHeight:     b.BlockHeight,
	}, nil
}

// ProcessFromBundle extracts the Process carried by b.
func ProcessFromBundle(b *Bundle) (*models.Process, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrMalformedInput)
	}
	it := &b.Item
	if it.Type() != TypeProcess {
		return nil, fmt.Errorf("%w: want %s, got %q", ErrWrongType, TypeProcess, it.Type())
	}
	if it.ID == "" || it.Owner == "" {
		return nil, fmt.Errorf("%w: process bundle missing id or owner", ErrMalformedInput)
	}

	return &models.Process{
		ID:                      it.ID,
		Owner:                   it.Owner,
		Tags:                    copyTags(it.Tags),
		InitialPayload:          append([]byte(nil), it.Data...),
		Signature:               it.Signature,
		CreationBundleReference: b.ID,
		Timestamp:               b.Timestamp,
		BlockHeight:             b.BlockHeight,
	}, nil
}

func copyTags(tags []models.Tag) []models.Tag {
	if tags == nil {
		return nil
	}
	return append([]models.Tag(nil), tags...)
}
