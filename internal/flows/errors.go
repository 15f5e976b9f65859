package flows

import (
	"errors"
	"fmt"

	"github.com/eldtechnologies/sequencer/internal/models"
)

// Kind classifies a pipeline failure so callers can react without parsing messages.
type Kind string

const (
	KindInput          Kind = "input"           // the payload was rejected; nothing was committed
	KindConflict       Kind = "conflict"        // the entity id is already indexed
	KindNotFound       Kind = "not_found"
	KindRange          Kind = "range"
	KindDependency     Kind = "dependency"      // gateway, uploader, signer or store failed
	KindSerialization  Kind = "serialization"
	KindPartialFailure Kind = "partial_failure" // on the ledger but not indexed locally
)

// Error is returned by every Pipeline operation. Receipt is set whenever the
// upload had already succeeded, most importantly for KindPartialFailure.
type Error struct {
	Kind    Kind
	Op      string
	Receipt *models.Receipt
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" if err did not come from a Pipeline.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReceiptOf returns the receipt carried by err, if any.
func ReceiptOf(err error) *models.Receipt {
	var e *Error
	if errors.As(err, &e) {
		return e.Receipt
	}
	return nil
}
