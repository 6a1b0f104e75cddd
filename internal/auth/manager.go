package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/store"
	"github.com/ibeckermayer/rappterbook/internal/types"
)

// SessionStore persists per-session credential slots.
type SessionStore interface {
	SaveToken(ctx context.Context, id, token string) error
	SaveIdentity(ctx context.Context, id string, ident types.Identity) error
	Load(ctx context.Context, id string) (store.Session, bool, error)
	ClearCredential(ctx context.Context, id string) error
}

// IdentityFetcher resolves the account behind a credential.
type IdentityFetcher interface {
	Viewer(ctx context.Context, token string) (types.Identity, error)
}

// Options configure the hand-off to the identity provider.
type Options struct {
	AuthorizeURL string
	ExchangeURL  string
	ClientID     string
	CallbackURL  string
	Scope        string
	Timeout      time.Duration
}

// Manager owns the credential slot of every session.
type Manager struct {
	store  SessionStore
	viewer IdentityFetcher
	opts   Options
	http   *http.Client
	logger *zap.Logger
}

// NewManager creates a new auth manager
func NewManager(sessions SessionStore, viewer IdentityFetcher, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Manager{
		store:  sessions,
		viewer: viewer,
		opts:   opts,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("auth"),
	}
}

// Token returns the stored credential of a session, or "" when signed out.
func (m *Manager) Token(ctx context.Context, sessionID string) (string, error) {
	sess, ok, err := m.store.Load(ctx, sessionID)
	if err != nil || !ok {
		return "", err
	}
	return sess.Token, nil
}

// IsAuthenticated checks if the session has a stored credential
func (m *Manager) IsAuthenticated(ctx context.Context, sessionID string) bool {
	token, err := m.Token(ctx, sessionID)
	if err != nil {
		m.logger.Warn("failed to read session", zap.String("session", sessionID), zap.Error(err))
		return false
	}
	return token != ""
}

// Identity returns the account of a signed-in session. The identity is
// fetched once per credential and cached in the session store until the
// credential is cleared. A rejected credential is discarded and the session
// is treated as signed out.
func (m *Manager) Identity(ctx context.Context, sessionID string) (*types.Identity, error) {
	sess, ok, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok || sess.Token == "" {
		return nil, nil
	}
	if sess.Identity != nil {
		return sess.Identity, nil
	}

	ident, err := m.viewer.Viewer(ctx, sess.Token)
	if err != nil {
		if errors.Is(err, platform.ErrUnauthorized) {
			m.Invalidate(ctx, sessionID, err)
			return nil, nil
		}
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if err := m.store.SaveIdentity(ctx, sessionID, ident); err != nil {
		m.logger.Warn("failed to cache identity", zap.String("session", sessionID), zap.Error(err))
	}
	return &ident, nil
}

// LoginURL builds the provider's authorization URL. The session ID travels
// as the state value and is checked on callback.
func (m *Manager) LoginURL(sessionID string) (string, error) {
	if m.opts.AuthorizeURL == "" || m.opts.ClientID == "" {
		return "", errors.New("sign-in is not configured")
	}
	u, err := url.Parse(m.opts.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	q := u.Query()
	q.Set("client_id", m.opts.ClientID)
	q.Set("state", sessionID)
	if m.opts.CallbackURL != "" {
		q.Set("redirect_uri", m.opts.CallbackURL)
	}
	if m.opts.Scope != "" {
		q.Set("scope", m.opts.Scope)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Complete exchanges an authorization code for a credential and stores it.
func (m *Manager) Complete(ctx context.Context, sessionID, state, code string) error {
	if state != sessionID {
		return errors.New("sign-in state does not match this session")
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("sign-in returned no code")
	}
	if m.opts.ExchangeURL == "" {
		return errors.New("sign-in is not configured")
	}

	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return fmt.Errorf("encode exchange: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.ExchangeURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read exchange response: %w", err)
	}
	var out struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("token exchange returned status %d", resp.StatusCode)
	}
	if out.AccessToken == "" {
		msg := out.ErrorDescription
		if msg == "" {
			msg = out.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("token exchange failed: %s", msg)
	}

	if err := m.store.SaveToken(ctx, sessionID, out.AccessToken); err != nil {
		return err
	}
	m.logger.Info("session signed in", zap.String("session", sessionID))
	return nil
}

// Logout clears stored credentials
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	return m.store.ClearCredential(ctx, sessionID)
}

// Invalidate discards a credential the platform rejected.
func (m *Manager) Invalidate(ctx context.Context, sessionID string, cause error) {
	m.logger.Info("credential rejected; signing session out",
		zap.String("session", sessionID), zap.Error(cause))
	if err := m.store.ClearCredential(ctx, sessionID); err != nil {
		m.logger.Error("failed to clear credential", zap.String("session", sessionID), zap.Error(err))
	}
}
