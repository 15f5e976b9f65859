package bundle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataItem(t *testing.T) {
	it := signedItem(t, TypeMessage, "process-1", []byte("hello"))

	got, err := ParseDataItem(rawItem(t, it))
	require.NoError(t, err)
	assert.Equal(t, it, got)
	assert.Equal(t, TypeMessage, got.Type())
}

func TestParseDataItemDerivesMissingID(t *testing.T) {
	it := signedItem(t, TypeProcess, "", []byte("wasm"))
	id := it.ID
	it.ID = ""

	got, err := ParseDataItem(rawItem(t, it))
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestParseDataItemRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(it *DataItem)
		raw    []byte
		want   error
	}{
		{name: "empty", raw: []byte("  "), want: ErrMalformedInput},
		{name: "not json", raw: []byte("\x00\x01"), want: ErrMalformedInput},
		{name: "unknown field", raw: []byte(`{"owner":"x","bogus":1}`), want: ErrMalformedInput},
		{name: "tampered data", mutate: func(it *DataItem) { it.Data = []byte("other") }, want: ErrInvalidSignature},
		{name: "wrong id", mutate: func(it *DataItem) { it.ID = "bafkreifake" }, want: ErrMalformedInput},
		{name: "no signature", mutate: func(it *DataItem) { it.Signature = ""; it.ID = "" }, want: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			if raw == nil {
				it := signedItem(t, TypeMessage, "process-1", []byte("hello"))
				tt.mutate(it)
				raw = rawItem(t, it)
			}
			_, err := ParseDataItem(raw)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsInputError(err))
		})
	}
}

func TestParseDataItemTypeRules(t *testing.T) {
	_, err := ParseDataItem(rawItem(t, signedItem(t, "Assignment", "p", nil)))
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = ParseDataItem(rawItem(t, signedItem(t, TypeMessage, "", []byte("x"))))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDataJSONIsBase64(t *testing.T) {
	it := signedItem(t, TypeMessage, "p", []byte{0xff, 0x00})
	var m map[string]any
	require.NoError(t, json.Unmarshal(rawItem(t, it), &m))
	assert.Equal(t, "/wA=", m["data"])
}
