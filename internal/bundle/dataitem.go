package bundle

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/eldtechnologies/sequencer/internal/cidutil"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/models"
)

// Values of the Type tag.
const (
	TypeTag     = "Type"
	TypeMessage = "Message"
	TypeProcess = "Process"
)

// DataItem is a client-signed payload: the raw input of a write.
type DataItem struct {
	ID        string       `json:"id,omitempty"`
	Owner     string       `json:"owner"` // base64 Ed25519 public key
	Target    string       `json:"target,omitempty"`
	Anchor    string       `json:"anchor,omitempty"`
	Tags      []models.Tag `json:"tags"`
	Data      []byte       `json:"data"`
	Signature string       `json:"signature"` // base64
}

// SigningPayload returns the canonical bytes covered by the item signature.
func (it *DataItem) SigningPayload() []byte {
	return appendItemBody(nil, it)
}

// Type returns the value of the Type tag, or "".
func (it *DataItem) Type() string {
	for _, t := range it.Tags {
		if t.Name == TypeTag {
			return t.Value
		}
	}
	return ""
}

// Sign sets Owner, Signature and ID using signer.
func (it *DataItem) Sign(signer crypto.Signer) error {
	owner, err := signer.Owner()
	if err != nil {
		return err
	}
	it.Owner = owner

	sig, err := signer.Sign(it.SigningPayload())
	if err != nil {
		return err
	}
	it.Signature = sig

	id, err := signatureID(sig)
	if err != nil {
		return err
	}
	it.ID = id
	return nil
}

// Verify checks the owner key, the signature and the id.
func (it *DataItem) Verify() error {
	if err := crypto.Verify(it.Owner, it.SigningPayload(), it.Signature); err != nil {
		return err
	}
	id, err := signatureID(it.Signature)
	if err != nil {
		return err
	}
	if it.ID != id {
		return fmt.Errorf("%w: id %q does not match signature", ErrMalformedInput, it.ID)
	}
	return nil
}

// ParseDataItem decodes and validates raw client input.
func ParseDataItem(raw []byte) (*DataItem, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var it DataItem
	if err := dec.Decode(&it); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after data item", ErrMalformedInput)
	}

	// The id is derived, so clients may omit it.
	if it.ID == "" {
		id, err := signatureID(it.Signature)
		if err != nil {
			return nil, err
		}
		it.ID = id
	}

	if err := it.Verify(); err != nil {
		return nil, err
	}

	switch it.Type() {
	case TypeMessage:
		if it.Target == "" {
			return nil, fmt.Errorf("%w: message requires a target process", ErrMalformedInput)
		}
	case TypeProcess:
	default:
		return nil, fmt.Errorf("%w: %s tag must be %s or %s", ErrWrongType, TypeTag, TypeMessage, TypeProcess)
	}

	return &it, nil
}

// signatureID derives an id from the raw signature bytes.
func signatureID(sigB64 string) (string, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) == 0 {
		return "", fmt.Errorf("%w: signature must be non-empty base64", ErrInvalidSignature)
	}
	return cidutil.String(sig), nil
}
