package credentials

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var sealedMagic = []byte("RCS1")

const (
	saltSize      = 16
	keySize       = chacha20poly1305.KeySize
	argonTime     = 1
	argonMemoryKB = 64 * 1024
	argonThreads  = 4
)

// FileStore persists the record as a JSON file. When a passphrase is set the
// file is sealed with XChaCha20-Poly1305 under an Argon2id derived key.
type FileStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

// NewFileStore returns a Store writing to path. An empty passphrase stores plain JSON.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credentials: file path is required")
	}
	return &FileStore{path: path, passphrase: []byte(passphrase)}, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and, if needed, unseals the stored record.
func (s *FileStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read credentials %s: %w", s.path, err)
	}

	if bytes.HasPrefix(data, sealedMagic) {
		if len(s.passphrase) == 0 {
			return Record{}, ErrSealed
		}
		data, err = s.open(data)
		if err != nil {
			return Record{}, err
		}
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decode credentials %s: %w", s.path, err)
	}
	return record, nil
}

// Save atomically replaces the stored record.
func (s *FileStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if len(s.passphrase) > 0 {
		data, err = s.seal(data)
		if err != nil {
			return err
		}
	}

	return writeFileAtomic(s.path, data)
}

// Clear removes the backing file.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealedMagic), nil
}

func (s *FileStore) open(data []byte) ([]byte, error) {
	body := data[len(sealedMagic):]
	if len(body) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("credentials %s: truncated sealed file", s.path)
	}
	salt := body[:saltSize]
	nonce := body[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := body[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, sealedMagic)
	if err != nil {
		return nil, ErrSealed
	}
	return plaintext, nil
}

func (s *FileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argonTime, argonMemoryKB, argonThreads, keySize)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credentials %s: %w", path, err)
	}
	return nil
}
