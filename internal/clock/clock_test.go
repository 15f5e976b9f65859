package clock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sequencer/internal/gateway"
)

type staticGateway struct {
	height uint64
	err    error
}

func (g staticGateway) Height(context.Context) (uint64, error) { return g.height, g.err }

func TestFormatHeightWidth(t *testing.T) {
	for _, h := range []uint64{0, 1, 42, 1387654, 999_999_999_999} {
		s, err := FormatHeight(h)
		require.NoError(t, err)
		assert.Len(t, s, HeightWidth, "height %d", h)
	}

	s, _ := FormatHeight(1387654)
	assert.Equal(t, "000001387654", s)
}

func TestFormatHeightSortsNumerically(t *testing.T) {
	heights := []uint64{0, 9, 10, 99, 100, 1_000_000, 99_999_999_999, 100_000_000_000, 999_999_999_999}
	for i := 1; i < len(heights); i++ {
		a, _ := FormatHeight(heights[i-1])
		b, _ := FormatHeight(heights[i])
		assert.Less(t, a, b, "%d should sort before %d", heights[i-1], heights[i])
	}
}

func TestFormatHeightOverflow(t *testing.T) {
	_, err := FormatHeight(1_000_000_000_000)
	assert.ErrorIs(t, err, ErrHeightOverflow)
}

func TestNowStableWithinWindow(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_123)
	o := NewOracle(staticGateway{height: 1200}, func() time.Time { return fixed })

	a, err := o.Now(context.Background())
	require.NoError(t, err)
	b, err := o.Now(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.Height, b.Height)
	assert.Equal(t, "000000001200", a.Height)
	assert.LessOrEqual(t, a.Millis, b.Millis)
}

func TestNowMonotonicTimestamps(t *testing.T) {
	o := NewOracle(staticGateway{height: 5}, nil)
	a, err := o.Now(context.Background())
	require.NoError(t, err)
	b, err := o.Now(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, a.Millis, b.Millis)
	assert.Equal(t, a.Height, b.Height)
}

func TestNowGatewayFailure(t *testing.T) {
	o := NewOracle(staticGateway{err: gateway.ErrUnavailable}, nil)
	_, err := o.Now(context.Background())
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	_, err = NewOracle(nil, nil).Now(context.Background())
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestNowClockBeforeEpoch(t *testing.T) {
	o := NewOracle(staticGateway{height: 1}, func() time.Time { return time.Unix(-10, 0) })
	_, err := o.Now(context.Background())
	assert.True(t, errors.Is(err, ErrClock))
}

func TestStampJSON(t *testing.T) {
	data, err := json.Marshal(Stamp{Millis: 1700000000123, Height: "000000001200"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"1700000000123","block_height":"000000001200"}`, string(data))
}
