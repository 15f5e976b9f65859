package bundle

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/eldtechnologies/sequencer/internal/models"
)

// Field numbers of the bundle wire format. Empty fields are omitted so the
// encoding of a given value is unique.
const (
	itemID        protowire.Number = 1
	itemOwner     protowire.Number = 2
	itemTarget    protowire.Number = 3
	itemAnchor    protowire.Number = 4
	itemTag       protowire.Number = 5
	itemData      protowire.Number = 6
	itemSignature protowire.Number = 7

	tagName  protowire.Number = 1
	tagValue protowire.Number = 2

	bundleID          protowire.Number = 1
	bundleOwner       protowire.Number = 2
	bundleTimestamp   protowire.Number = 3
	bundleBlockHeight protowire.Number = 4
	bundleSequenceKey protowire.Number = 5
	bundleItem        protowire.Number = 6
	bundleSignature   protowire.Number = 7
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeTag(t models.Tag) []byte {
	var b []byte
	b = appendString(b, tagName, t.Name)
	b = appendString(b, tagValue, t.Value)
	return b
}

// appendItemBody writes every data item field except id and signature.
func appendItemBody(b []byte, it *DataItem) []byte {
	b = appendString(b, itemOwner, it.Owner)
	b = appendString(b, itemTarget, it.Target)
	b = appendString(b, itemAnchor, it.Anchor)
	for _, t := range it.Tags {
		// Tags are always written, even when empty, so their count survives decoding.
		b = protowire.AppendTag(b, itemTag, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTag(t))
	}
	b = appendBytes(b, itemData, it.Data)
	return b
}

func encodeItem(it *DataItem) []byte {
	var b []byte
	b = appendString(b, itemID, it.ID)
	b = appendItemBody(b, it)
	b = appendString(b, itemSignature, it.Signature)
	return b
}

// appendBundleBody writes every bundle field except id and signature.
func appendBundleBody(b []byte, bd *Bundle) []byte {
	b = appendString(b, bundleOwner, bd.Owner)
	b = appendVarint(b, bundleTimestamp, uint64(bd.Timestamp))
	b = appendString(b, bundleBlockHeight, bd.BlockHeight)
	b = appendString(b, bundleSequenceKey, bd.SequenceKey)
	b = appendBytes(b, bundleItem, encodeItem(&bd.Item))
	return b
}

func encodeBundle(bd *Bundle) []byte {
	var b []byte
	b = appendString(b, bundleID, bd.ID)
	b = appendBundleBody(b, bd)
	b = appendString(b, bundleSignature, bd.Signature)
	return b
}

// field is one decoded (number, value) pair.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	bytes  []byte
	varint uint64
}

// decodeFields splits b into fields, rejecting wire types we never write.
func decodeFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedInput, num, protowire.ParseError(n))
			}
			f.bytes = v
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedInput, num, protowire.ParseError(n))
			}
			f.varint = v
			b = b[n:]
		default:
			return nil, fmt.Errorf("%w: field %d has unsupported wire type %d", ErrMalformedInput, num, typ)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func unknownField(kind string, f field) error {
	return fmt.Errorf("%w: unknown %s field %d (wire type %d)", ErrMalformedInput, kind, f.num, f.typ)
}

func decodeTag(b []byte) (models.Tag, error) {
	var t models.Tag
	fields, err := decodeFields(b)
	if err != nil {
		return t, err
	}
	for _, f := range fields {
		switch {
		case f.num == tagName && f.typ == protowire.BytesType:
			t.Name = string(f.bytes)
		case f.num == tagValue && f.typ == protowire.BytesType:
			t.Value = string(f.bytes)
		default:
			return t, unknownField("tag", f)
		}
	}
	return t, nil
}

func decodeItem(b []byte) (DataItem, error) {
	var it DataItem
	fields, err := decodeFields(b)
	if err != nil {
		return it, err
	}
	for _, f := range fields {
		if f.typ != protowire.BytesType {
			return it, unknownField("data item", f)
		}
		switch f.num {
		case itemID:
			it.ID = string(f.bytes)
		case itemOwner:
			it.Owner = string(f.bytes)
		case itemTarget:
			it.Target = string(f.bytes)
		case itemAnchor:
			it.Anchor = string(f.bytes)
		case itemTag:
			t, err := decodeTag(f.bytes)
			if err != nil {
				return it, err
			}
			it.Tags = append(it.Tags, t)
		case itemData:
			it.Data = append([]byte(nil), f.bytes...)
		case itemSignature:
			it.Signature = string(f.bytes)
		default:
			return it, unknownField("data item", f)
		}
	}
	return it, nil
}

// DecodeBundle parses the binary produced by Bundle.Encode. Unknown fields are
// rejected so nothing present in the binary is silently dropped.
func DecodeBundle(b []byte) (*Bundle, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return nil, err
	}

	bd := &Bundle{}
	for _, f := range fields {
		switch {
		case f.num == bundleTimestamp && f.typ == protowire.VarintType:
			bd.Timestamp = int64(f.varint)
		case f.typ != protowire.BytesType:
			return nil, unknownField("bundle", f)
		case f.num == bundleID:
			bd.ID = string(f.bytes)
		case f.num == bundleOwner:
			bd.Owner = string(f.bytes)
		case f.num == bundleBlockHeight:
			bd.BlockHeight = string(f.bytes)
		case f.num == bundleSequenceKey:
			bd.SequenceKey = string(f.bytes)
		case f.num == bundleItem:
			it, err := decodeItem(f.bytes)
			if err != nil {
				return nil, err
			}
			bd.Item = it
		case f.num == bundleSignature:
			bd.Signature = string(f.bytes)
		default:
			return nil, unknownField("bundle", f)
		}
	}
	return bd, nil
}
