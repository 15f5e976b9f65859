package models

// Tag is a name/value pair carried by a data item.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message represents an action directed at a running process.
// Messages are immutable once persisted.
type Message struct {
	ID              string `json:"id"`
	ProcessID       string `json:"process_id"`
	SequenceKey     string `json:"sequence_key"`
	Owner           string `json:"owner"`
	Tags            []Tag  `json:"tags"`
	Payload         []byte `json:"payload"`
	Signature       string `json:"signature"`
	BundleReference string `json:"bundle_reference"`
	Timestamp       int64  `json:"timestamp"`    // Unix ms
	BlockHeight     string `json:"block_height"` // 12-digit, zero padded
}
