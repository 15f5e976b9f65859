// Package cidutil derives content identifiers for bundles, data items and
// upload idempotency keys.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CIDv1 (raw codec, sha2-256 multihash) of data.
func Sum(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String returns the string form of Sum(data).
func String(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		// multihash.Sum only fails for unknown codes or bad lengths.
		return ""
	}
	return id.String()
}

// Valid reports whether s parses as a defined CID.
func Valid(s string) bool {
	id, err := cid.Decode(s)
	return err == nil && id.Defined()
}
