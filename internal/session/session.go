package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"trade-gateway/internal/interfaces"
	"trade-gateway/internal/logger"
	"trade-gateway/internal/store"
)

// tokenTTL is how long an access token stays valid after issue.
const tokenTTL = 12 * time.Hour

var (
	ErrNoSession         = errors.New("no access token issued")
	ErrEmptyRequestToken = errors.New("request token is empty")
	ErrEmptyAccessToken  = errors.New("broker response contained no access token")
)

// Manager owns the brokerage credentials and the current access token.
// Token and issue time are only ever written together: readers never observe
// a half-written session.
type Manager struct {
	creds  store.Credentials
	broker interfaces.Broker

	// exchangeMu keeps at most one token exchange in flight. It is separate
	// from mu so the external call never blocks state readers.
	exchangeMu sync.Mutex

	mu          sync.Mutex
	accessToken string
	issuedAt    time.Time

	now func() time.Time
}

func NewManager(creds store.Credentials, broker interfaces.Broker) *Manager {
	return &Manager{creds: creds, broker: broker, now: time.Now}
}

// LoginURL returns the brokerage login URL. Deterministic, no side effects.
func (m *Manager) LoginURL() string {
	return m.broker.LoginURL()
}

// Checksum proves possession of the API secret during token exchange:
// hex(SHA-256(api_key + request_token + api_secret)).
func Checksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}

// ExchangeToken trades a request token for an access token and records the
// new session. On any failure the prior session state is left untouched.
func (m *Manager) ExchangeToken(ctx context.Context, requestToken string) error {
	if requestToken == "" {
		return ErrEmptyRequestToken
	}

	m.exchangeMu.Lock()
	defer m.exchangeMu.Unlock()

	checksum := Checksum(m.creds.APIKey, requestToken, m.creds.APISecret)
	token, err := m.broker.ExchangeToken(ctx, requestToken, checksum)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	if token == "" {
		return ErrEmptyAccessToken
	}

	m.broker.SetAccessToken(token)

	m.mu.Lock()
	m.accessToken = token
	m.issuedAt = m.now()
	m.mu.Unlock()

	logger.Info(ctx, "Access token issued", "valid_for", tokenTTL.String())
	return nil
}

// IsValid reports whether a token has been issued and is still inside its
// validity window.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issuedAt.IsZero() {
		return false
	}
	return m.now().Before(m.issuedAt.Add(tokenTTL))
}

// Token returns a copy of the current access token. Callers must re-check
// validity before any privileged call; the copy is safe to hold across
// network I/O.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken == "" || m.issuedAt.IsZero() {
		return "", false
	}
	if !m.now().Before(m.issuedAt.Add(tokenTTL)) {
		return "", false
	}
	return m.accessToken, true
}
