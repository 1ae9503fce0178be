package lifecycle

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pushsync/pkg/lib/jwt"
)

var (
	ErrEmptyToken = errors.New("client token is empty")
	ErrStoreWrite = errors.New("secure store rejected the client token")
)

const DefaultTokenKey = "client_token"

// TokenManager caches the ClientToken held in the secure store. It is the only
// writer; every other component only reads.
type TokenManager struct {
	store SecureStore
	key   string
	log   *slog.Logger
	now   func() time.Time

	mu    sync.RWMutex
	token string
}

func NewTokenManager(store SecureStore, key string, log *slog.Logger) *TokenManager {
	if key == "" {
		key = DefaultTokenKey
	}
	m := &TokenManager{
		store: store,
		key:   key,
		log:   log.With(slog.String("component", "token_manager")),
		now:   time.Now,
	}
	m.Reload()
	return m
}

func (m *TokenManager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Valid reports whether a token is present and, for JWTs, not yet expired.
func (m *TokenManager) Valid() bool {
	token := m.Token()
	if token == "" {
		return false
	}
	if err := jwt.CheckExpiry(token, m.now()); err != nil {
		m.log.Debug("client token rejected", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (m *TokenManager) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if !m.store.SetSecureString(m.key, token) {
		return ErrStoreWrite
	}
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	m.log.Info("client token updated")
	return nil
}

func (m *TokenManager) Clear() {
	m.store.DeleteSecureString(m.key)
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	m.log.Info("client token cleared")
}

// Reload re-reads the secure store and reports whether the token changed.
func (m *TokenManager) Reload() bool {
	stored, _ := m.store.GetSecureString(m.key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if stored == m.token {
		return false
	}
	m.token = stored
	return true
}
