// Package securestore holds single secret strings by key. The file store
// seals every value with nacl/secretbox under a key derived from a
// passphrase with scrypt.
package securestore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrEmptyPassphrase = errors.New("secure store passphrase is empty")
	ErrDecrypt         = errors.New("secure store entry could not be decrypted")
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

// --- In-memory store ---

type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) GetSecureString(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) SetSecureString(key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return true
}

func (m *Memory) DeleteSecureString(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// --- Encrypted file store ---

type fileContents struct {
	Salt    string            `json:"salt"`
	Entries map[string]string `json:"entries"`
}

type File struct {
	path string
	key  [keySize]byte
	log  *slog.Logger

	mu       sync.Mutex
	contents fileContents
}

// OpenFile loads (or initialises) the store at path.
func OpenFile(path, passphrase string, log *slog.Logger) (*File, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	f := &File{
		path: path,
		log:  log.With(slog.String("component", "secure_store")),
		contents: fileContents{
			Entries: make(map[string]string),
		},
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generating salt: %w", err)
		}
		f.contents.Salt = base64.StdEncoding.EncodeToString(salt)
	case err != nil:
		return nil, fmt.Errorf("reading secure store: %w", err)
	default:
		if err := json.Unmarshal(raw, &f.contents); err != nil {
			return nil, fmt.Errorf("decoding secure store: %w", err)
		}
		if f.contents.Entries == nil {
			f.contents.Entries = make(map[string]string)
		}
	}

	salt, err := base64.StdEncoding.DecodeString(f.contents.Salt)
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("secure store has invalid salt")
	}
	derived, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	copy(f.key[:], derived)
	return f, nil
}

func (f *File) GetSecureString(key string) (string, bool) {
	f.mu.Lock()
	sealed, ok := f.contents.Entries[key]
	f.mu.Unlock()
	if !ok {
		return "", false
	}

	value, err := f.open(sealed)
	if err != nil {
		f.log.Error("failed to open secure entry", slog.String("key", key), slog.String("error", err.Error()))
		return "", false
	}
	return value, true
}

func (f *File) SetSecureString(key, value string) bool {
	sealed, err := f.seal(value)
	if err != nil {
		f.log.Error("failed to seal secure entry", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.contents.Entries[key]
	f.contents.Entries[key] = sealed
	if err := f.flush(); err != nil {
		if had {
			f.contents.Entries[key] = prev
		} else {
			delete(f.contents.Entries, key)
		}
		f.log.Error("failed to write secure store", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (f *File) DeleteSecureString(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.contents.Entries[key]; !ok {
		return
	}
	delete(f.contents.Entries, key)
	if err := f.flush(); err != nil {
		f.log.Error("failed to write secure store", slog.String("error", err.Error()))
	}
}

func (f *File) seal(value string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], []byte(value), &nonce, &f.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (f *File) open(sealed string) (string, error) {
	box, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &f.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// flush writes atomically via a temp file; caller holds f.mu.
func (f *File) flush() error {
	raw, err := json.Marshal(f.contents)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
