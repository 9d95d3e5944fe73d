// Package crypto seals exchange credentials before they are written to the
// database, using PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// sealed is the stored form of one secret.
type sealed struct {
	Version    int    `json:"v"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ct"`
}

// Vault seals and opens short secrets with a passphrase. Every Seal uses a
// fresh salt and nonce, so sealing the same value twice gives different
// output.
type Vault struct {
	passphrase []byte
	iterations int
}

// NewVault creates a Vault. The passphrase must not be empty.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	return &Vault{passphrase: []byte(passphrase), iterations: pbkdf2Iterations}, nil
}

func (v *Vault) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.passphrase, salt, v.iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string so
// absent credentials stay absent.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := v.gcm(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out, err := json.Marshal(sealed{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(plaintext), nil)),
	})
	if err != nil {
		return "", fmt.Errorf("crypto: encoding sealed value: %w", err)
	}
	return string(out), nil
}

// Open reverses Seal.
func (v *Vault) Open(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	var s sealed
	if err := json.Unmarshal([]byte(value), &s); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed value: %w", err)
	}
	if s.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", s.Version)
	}

	var salt, nonce, ct []byte
	for _, f := range []struct {
		dst  *[]byte
		src  string
		name string
	}{{&salt, s.Salt, "salt"}, {&nonce, s.Nonce, "nonce"}, {&ct, s.Ciphertext, "ciphertext"}} {
		b, err := base64.StdEncoding.DecodeString(f.src)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.dst = b
	}

	gcm, err := v.gcm(salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}
