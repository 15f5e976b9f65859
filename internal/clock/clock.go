// Package clock combines wall-clock time with ledger height into a causal anchor.
package clock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eldtechnologies/sequencer/internal/gateway"
)

// HeightWidth is the fixed width of a rendered block height. Zero padding
// keeps lexicographic order equal to numeric order for all heights below 10^12.
const HeightWidth = 12

const maxHeight = 999_999_999_999

var (
	ErrClock          = errors.New("system clock before unix epoch")
	ErrHeightOverflow = errors.New("block height exceeds fixed width")
)

// Stamp is a wall-clock time paired with the ledger height observed with it.
type Stamp struct {
	Millis int64
	Height string
}

// MarshalJSON renders {"timestamp": "<ms>", "block_height": "<12 digits>"}.
func (s Stamp) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"timestamp":%q,"block_height":%q}`, strconv.FormatInt(s.Millis, 10), s.Height)), nil
}

// FormatHeight renders h zero padded to HeightWidth digits.
func FormatHeight(h uint64) (string, error) {
	if h > maxHeight {
		return "", fmt.Errorf("%w: %d", ErrHeightOverflow, h)
	}
	return fmt.Sprintf("%0*d", HeightWidth, h), nil
}

// Oracle reads the local clock and the ledger height.
type Oracle struct {
	gateway gateway.Gateway
	now     func() time.Time
}

// NewOracle creates an Oracle. A nil now uses time.Now.
func NewOracle(gw gateway.Gateway, now func() time.Time) *Oracle {
	if now == nil {
		now = time.Now
	}
	return &Oracle{gateway: gw, now: now}
}

// Now returns the current stamp. The gateway query is the only suspension point.
func (o *Oracle) Now(ctx context.Context) (Stamp, error) {
	ms := o.now().UnixMilli()
	if ms < 0 {
		return Stamp{}, ErrClock
	}

	if o.gateway == nil {
		return Stamp{}, gateway.ErrUnavailable
	}
	h, err := o.gateway.Height(ctx)
	if err != nil {
		return Stamp{}, err
	}

	height, err := FormatHeight(h)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{Millis: ms, Height: height}, nil
}
