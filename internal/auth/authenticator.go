package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// DefaultTokenTTL bounds how long an issued bearer token stays valid.
const DefaultTokenTTL = 12 * time.Hour

type tokenEntry struct {
	username string
	expires  time.Time
}

// Authenticator validates request credentials. Basic credentials are checked
// against the user store and exchanged for a bearer token; bearer tokens are
// validated against the in-memory token table. Tokens do not survive a
// process restart, clients fall back to basic on rejection.
type Authenticator struct {
	store *UserStore
	ttl   time.Duration

	mu     sync.RWMutex
	tokens map[string]tokenEntry
}

// NewAuthenticator creates an authenticator over a user store.
func NewAuthenticator(store *UserStore) *Authenticator {
	return &Authenticator{
		store:  store,
		ttl:    DefaultTokenTTL,
		tokens: make(map[string]tokenEntry),
	}
}

// Identity describes an authenticated caller.
type Identity struct {
	Username string
	// Token is set when a new bearer token was issued for this request.
	Token string
}

// Authenticate validates an Authorization header value and returns the
// caller identity. A successful basic handshake issues a fresh bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Identity, error) {
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || value == "" {
		return nil, fmt.Errorf("auth: malformed authorization header: %w", types.ErrAuth)
	}

	switch strings.ToLower(scheme) {
	case "basic":
		return a.handshake(ctx, value)
	case "bearer":
		username, err := a.validateToken(value)
		if err != nil {
			return nil, err
		}
		return &Identity{Username: username}, nil
	default:
		return nil, fmt.Errorf("auth: unsupported authorization scheme %q: %w", scheme, types.ErrAuth)
	}
}

// handshake decodes basic credentials, validates them, and issues a token.
func (a *Authenticator) handshake(ctx context.Context, encoded string) (*Identity, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("auth: malformed basic credentials: %w", types.ErrAuth)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("auth: malformed basic credentials: %w", types.ErrAuth)
	}
	if err := a.store.ValidateCredentials(ctx, username, password); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	a.mu.Lock()
	a.tokens[token] = tokenEntry{username: username, expires: time.Now().Add(a.ttl)}
	a.pruneLocked()
	a.mu.Unlock()

	log.Printf("auth: issued bearer token for user %q", username)
	return &Identity{Username: username, Token: token}, nil
}

func (a *Authenticator) validateToken(token string) (string, error) {
	a.mu.RLock()
	entry, ok := a.tokens[token]
	a.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("auth: unknown bearer token: %w", types.ErrAuth)
	}
	if time.Now().After(entry.expires) {
		a.mu.Lock()
		delete(a.tokens, token)
		a.mu.Unlock()
		return "", fmt.Errorf("auth: expired bearer token: %w", types.ErrAuth)
	}
	return entry.username, nil
}

// pruneLocked drops expired tokens. Callers hold the write lock.
func (a *Authenticator) pruneLocked() {
	now := time.Now()
	for token, entry := range a.tokens {
		if now.After(entry.expires) {
			delete(a.tokens, token)
		}
	}
}

// Revoke invalidates one bearer token.
func (a *Authenticator) Revoke(token string) {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}
