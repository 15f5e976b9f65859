package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
)

// Signer produces signatures and a public identity for arbitrary bytes.
type Signer interface {
	Sign(data []byte) (string, error)
	Owner() (string, error)
}

// Ed25519Signer signs with the key held by a Wallet.
type Ed25519Signer struct {
	wallet Wallet
}

// NewEd25519Signer creates a signer backed by wallet.
func NewEd25519Signer(wallet Wallet) *Ed25519Signer {
	return &Ed25519Signer{wallet: wallet}
}

// Sign returns a base64 signature over data.
func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	if s.wallet == nil {
		return "", ErrNoKeyMaterial
	}
	key, err := s.wallet.PrivateKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, data)), nil
}

// Owner returns the base64 public key matching Sign.
func (s *Ed25519Signer) Owner() (string, error) {
	if s.wallet == nil {
		return "", ErrNoKeyMaterial
	}
	key, err := s.wallet.PrivateKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey)), nil
}
