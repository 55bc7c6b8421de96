package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oralhistory/backend/internal/models"
)

var (
	// ErrSessionNotFound is returned for unknown, revoked or rotated tokens.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshTokenExpired means the caller has to go through the bridge again.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrAccessTokenExpired means the caller should refresh.
	ErrAccessTokenExpired = errors.New("access token expired")
)

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	FindByRefresh(ctx context.Context, refreshHash string) (Session, error)
	FindByAccess(ctx context.Context, accessHash string) (Session, error)
	Delete(ctx context.Context, refreshHash string) error
}

// Session is one issued token pair. Raw tokens never reach the store.
type Session struct {
	RefreshHash     string
	AccessHash      string
	UserID          string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
}

// Manager issues the opaque bearer tokens handed out by the auth bridge.
// Refreshing rotates both tokens; the spent pair stops working at once.
type Manager struct {
	store      SessionStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewManager panics on a nil store since every operation needs one.
func NewManager(accessTTL, refreshTTL time.Duration, store SessionStore) *Manager {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	return &Manager{store: store, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// Issue starts a new session for userID.
func (m *Manager) Issue(ctx context.Context, userID string) (models.SessionTokens, error) {
	if userID == "" {
		return models.SessionTokens{}, errors.New("issue session: user id must be provided")
	}
	tokens, session, err := m.newPair(userID)
	if err != nil {
		return models.SessionTokens{}, err
	}
	if err := m.store.Save(ctx, session); err != nil {
		return models.SessionTokens{}, fmt.Errorf("save session: %w", err)
	}
	return tokens, nil
}

func (m *Manager) newPair(userID string) (models.SessionTokens, Session, error) {
	var raw [2]string
	for i := range raw {
		token, err := randomToken()
		if err != nil {
			return models.SessionTokens{}, Session{}, fmt.Errorf("generate token: %w", err)
		}
		raw[i] = token
	}

	issued := m.now().UTC()
	tokens := models.SessionTokens{
		AccessToken:      raw[0],
		AccessExpiresAt:  issued.Add(m.accessTTL),
		RefreshToken:     raw[1],
		RefreshExpiresAt: issued.Add(m.refreshTTL),
	}
	return tokens, Session{
		AccessHash:      HashToken(tokens.AccessToken),
		RefreshHash:     HashToken(tokens.RefreshToken),
		UserID:          userID,
		AccessExpiresAt: tokens.AccessExpiresAt,
		ExpiresAt:       tokens.RefreshExpiresAt,
	}, nil
}

// Refresh spends refreshToken and issues a replacement pair for the same user.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	if refreshToken == "" {
		return models.SessionTokens{}, ErrSessionNotFound
	}
	hash := HashToken(refreshToken)
	session, err := m.store.FindByRefresh(ctx, hash)
	if err != nil {
		return models.SessionTokens{}, err
	}

	expired := m.now().UTC().After(session.ExpiresAt)
	if err := m.store.Delete(ctx, hash); err != nil && !expired {
		return models.SessionTokens{}, err
	}
	if expired {
		return models.SessionTokens{}, ErrRefreshTokenExpired
	}
	return m.Issue(ctx, session.UserID)
}

// Authenticate returns the user an unexpired access token belongs to.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", ErrSessionNotFound
	}
	session, err := m.store.FindByAccess(ctx, HashToken(accessToken))
	if err != nil {
		return "", err
	}
	if !m.now().UTC().Before(session.AccessExpiresAt) {
		return "", ErrAccessTokenExpired
	}
	return session.UserID, nil
}

// Revoke ends the session behind refreshToken. Unknown tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) {
	if refreshToken != "" {
		_ = m.store.Delete(ctx, HashToken(refreshToken))
	}
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
