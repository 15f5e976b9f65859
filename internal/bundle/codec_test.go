package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/eldtechnologies/sequencer/internal/models"
)

func sampleBundle() *Bundle {
	return &Bundle{
		ID:          "bundle-id",
		Owner:       "owner-key",
		Timestamp:   1_700_000_000_123,
		BlockHeight: "000001387654",
		SequenceKey: "01HQ3Y8R4ZK0000000000000AA",
		Item: DataItem{
			ID:     "item-id",
			Owner:  "client-key",
			Target: "process-1",
			Anchor: "anchor",
			Tags: []models.Tag{
				{Name: "Type", Value: "Message"},
				{Name: "", Value: ""},
				{Name: "Action", Value: "Eval"},
			},
			Data:      []byte("payload bytes"),
			Signature: "c2ln",
		},
		Signature: "YnVuZGxlLXNpZw==",
	}
}

func TestDecodeBundleReproducesEveryField(t *testing.T) {
	want := sampleBundle()
	got, err := DecodeBundle(want.Encode())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want.Encode(), got.Encode())
}

func TestEncodeIsDeterministic(t *testing.T) {
	assert.Equal(t, sampleBundle().Encode(), sampleBundle().Encode())
}

func TestSigningPayloadExcludesIDAndSignature(t *testing.T) {
	a := sampleBundle()
	b := sampleBundle()
	b.ID = "other"
	b.Signature = "other"
	assert.Equal(t, a.SigningPayload(), b.SigningPayload())

	b.SequenceKey = "changed"
	assert.NotEqual(t, a.SigningPayload(), b.SigningPayload())
}

func TestDecodeBundleRejectsUnknownFields(t *testing.T) {
	bin := sampleBundle().Encode()
	bin = protowire.AppendTag(bin, 99, protowire.BytesType)
	bin = protowire.AppendString(bin, "smuggled")

	_, err := DecodeBundle(bin)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeBundleRejectsTruncation(t *testing.T) {
	bin := sampleBundle().Encode()
	_, err := DecodeBundle(bin[:len(bin)-3])
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeBundleRejectsWrongWireType(t *testing.T) {
	var bin []byte
	bin = protowire.AppendTag(bin, bundleOwner, protowire.VarintType)
	bin = protowire.AppendVarint(bin, 5)

	_, err := DecodeBundle(bin)
	assert.ErrorIs(t, err, ErrMalformedInput)
}
