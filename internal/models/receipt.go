package models

// Receipt is returned by the upload service once a bundle is durably written.
type Receipt struct {
	ID        string `json:"id"` // ledger reference
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version,omitempty"`
	Public    string `json:"public,omitempty"`
	Signature string `json:"signature,omitempty"`
}
