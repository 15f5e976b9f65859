package bundle

import (
	"errors"

	"github.com/eldtechnologies/sequencer/internal/crypto"
)

var (
	ErrMalformedInput    = errors.New("malformed input")
	ErrWrongType         = errors.New("unexpected data item type")
	ErrInvalidSignature  = crypto.ErrInvalidSignature
	ErrNoKeyMaterial     = crypto.ErrNoKeyMaterial
	ErrAnchorUnavailable = errors.New("ledger anchor unavailable")
)

// BuildError reports the builder stage that failed.
type BuildError struct {
	Stage string // "parse", "key", "anchor", "sequence", "sign"
	Err   error
}

func (e *BuildError) Error() string {
	return "build " + e.Stage + ": " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err was caused by the client payload rather
// than by a dependency.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMalformedInput) ||
		errors.Is(err, ErrWrongType) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, crypto.ErrInvalidPublicKey)
}
