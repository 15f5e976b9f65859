package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Wallet supplies the key material used for signing bundles.
type Wallet interface {
	PrivateKey() (ed25519.PrivateKey, error)
}

// WalletFile is the on-disk wallet format.
type WalletFile struct {
	PublicKey  string `json:"public_key"`  // base64 Ed25519 public key
	PrivateKey string `json:"private_key"` // base64 Ed25519 seed
}

// FileWallet is a Wallet loaded once from a wallet file.
type FileWallet struct {
	key ed25519.PrivateKey
}

// LoadFileWallet reads and validates the wallet at path.
func LoadFileWallet(path string) (*FileWallet, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: wallet path is empty", ErrNoKeyMaterial)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoKeyMaterial, err)
	}

	var wf WalletFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("%w: malformed wallet file", ErrNoKeyMaterial)
	}

	seed, err := base64.StdEncoding.DecodeString(wf.PrivateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: private key must be a base64 %d byte seed", ErrNoKeyMaterial, ed25519.SeedSize)
	}

	key := ed25519.NewKeyFromSeed(seed)
	if wf.PublicKey != "" && wf.PublicKey != base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey)) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrNoKeyMaterial)
	}

	return &FileWallet{key: key}, nil
}

// NewWallet wraps an in-memory private key.
func NewWallet(key ed25519.PrivateKey) *FileWallet {
	return &FileWallet{key: key}
}

// PrivateKey returns the wallet's signing key.
func (w *FileWallet) PrivateKey() (ed25519.PrivateKey, error) {
	if w == nil || len(w.key) != ed25519.PrivateKeySize {
		return nil, ErrNoKeyMaterial
	}
	return w.key, nil
}

// GenerateWalletFile creates a new keypair and writes it to path with 0600 permissions.
func GenerateWalletFile(path string) (*WalletFile, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	wf := &WalletFile{
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv.Seed()),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	data, _ := json.MarshalIndent(wf, "", "  ")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, err
	}
	return wf, nil
}
