package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"wa-gateway/go-backend/pkg/models"
)

const credentialFileExt = ".creds"

// FileStore keeps one file per session under dir. With a passphrase the files
// are sealed; without one they are plain JSON.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	secret string
	kdf    KDFParams
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, kdf: DefaultKDFParams()}
}

func NewEncryptedFileStore(dir, passphrase string) *FileStore {
	return &FileStore{dir: dir, secret: strings.TrimSpace(passphrase), kdf: DefaultKDFParams()}
}

// WithKDFParams overrides the argon2id cost used for new files.
func (s *FileStore) WithKDFParams(params KDFParams) *FileStore {
	s.kdf = params
	return s
}

func (s *FileStore) Encrypted() bool {
	return s.secret != ""
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (models.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return models.Credentials{}, err
	}
	if !ValidSessionID(sessionID) {
		return models.Credentials{}, ErrInvalidSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return models.Credentials{}, ErrNotFound
		}
		return models.Credentials{}, err
	}
	if s.secret != "" {
		data, err = open(s.secret, sessionID, data)
		if err != nil {
			return models.Credentials{}, fmt.Errorf("open credentials for %s: %w", sessionID, err)
		}
	}
	var creds models.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return models.Credentials{}, fmt.Errorf("decode credentials for %s: %w", sessionID, err)
	}
	return creds, nil
}

func (s *FileStore) Save(ctx context.Context, sessionID string, creds models.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if s.secret != "" {
		data, err = seal(s.secret, sessionID, s.kdf, data)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, sessionID+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path(sessionID))
}

func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	if !ValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, credentialFileExt) {
			continue
		}
		id := strings.TrimSuffix(name, credentialFileExt)
		if ValidSessionID(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+credentialFileExt)
}
