package authstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion = 1
	sealPrefix  = "WAGCRED1\n"
	saltSize    = 16
)

var (
	ErrSealAuthFailed = errors.New("authstore: credential file authentication failed")
	ErrSealInvalid    = errors.New("authstore: credential file is malformed")
	ErrNotSealed      = errors.New("authstore: credential file is not sealed")
)

// KDFParams are the argon2id cost parameters recorded in every sealed file so
// they can be raised without breaking existing files.
type KDFParams struct {
	Time     uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads  uint8  `json:"threads"`
}

func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
}

type sealedFile struct {
	Version    uint32    `json:"version"`
	SessionID  string    `json:"session_id"`
	KDF        KDFParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// seal encrypts plaintext with a key derived from passphrase. The session id
// is bound as associated data so files cannot be swapped between sessions.
func seal(passphrase, sessionID string, params KDFParams, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(sealedFile{
		Version:    sealVersion,
		SessionID:  sessionID,
		KDF:        params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte(sessionID)),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(sealPrefix), raw...), nil
}

func open(passphrase, sessionID string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), sealPrefix) {
		return nil, ErrNotSealed
	}
	var file sealedFile
	if err := json.Unmarshal(data[len(sealPrefix):], &file); err != nil {
		return nil, ErrSealInvalid
	}
	if file.Version != sealVersion || file.SessionID != sessionID || len(file.Salt) != saltSize {
		return nil, ErrSealInvalid
	}
	key := deriveKey(passphrase, file.Salt, file.KDF)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(file.Nonce) != aead.NonceSize() {
		return nil, ErrSealInvalid
	}
	plaintext, err := aead.Open(nil, file.Nonce, file.Ciphertext, []byte(sessionID))
	if err != nil {
		return nil, ErrSealAuthFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte, params KDFParams) []byte {
	if params.Time == 0 || params.MemoryKB == 0 || params.Threads == 0 {
		params = DefaultKDFParams()
	}
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKB, params.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
