package models

// Process represents the definition of a new computation.
// There is exactly one Process per id and it is never mutated.
type Process struct {
	ID                      string `json:"id"`
	Owner                   string `json:"owner"`
	Tags                    []Tag  `json:"tags"`
	InitialPayload          []byte `json:"initial_payload"`
	Signature               string `json:"signature"`
	CreationBundleReference string `json:"creation_bundle_reference"`
	Timestamp               int64  `json:"timestamp"`
	BlockHeight             string `json:"block_height"`
}
