package crypto

import (
	"github.com/google/uuid"
)

// NewInvocationID returns a time-ordered UUID v7 string used to correlate
// log lines of a single pipeline invocation.
func NewInvocationID() string {
	return uuid.Must(uuid.NewV7()).String()
}
