package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/credential"
)

// sessionKey is the credential store key holding the serialized session.
const sessionKey = "session"

// Client drives the magic-link sign-in flow and holds the current
// session. Auth-state changes (verify, sign-out, invalidated session)
// are fanned out to registered callbacks.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessions   SessionStore
	logger     *log.Logger

	mu      sync.Mutex
	session *Session
	loaded  bool
	subs    []func(*User)
}

// NewClient creates an auth client for the service at baseURL. Sessions
// are persisted through the given store; pass KeyringSessions() outside
// of tests.
func NewClient(baseURL string, sessions SessionStore, logger *log.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		sessions: sessions,
		logger:   logger,
	}
}

// OnAuthChange registers a callback fired with the new user after
// sign-in and with nil after sign-out or session invalidation.
func (c *Client) OnAuthChange(fn func(*User)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// SignInWithEmail asks the auth service to email a magic link. The
// session is established later, when the emailed token is verified.
func (c *Client) SignInWithEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email must not be empty")
	}

	body := map[string]string{"email": email}
	if err := c.post(ctx, "/auth/v1/magiclink", "", body, nil); err != nil {
		return fmt.Errorf("requesting magic link for %s: %w", email, err)
	}
	return nil
}

// VerifyToken exchanges an emailed magic-link token for a session,
// persists it, and notifies auth-change subscribers.
func (c *Client) VerifyToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, &AuthError{Message: "empty verification token"}
	}

	var session Session
	body := map[string]string{"type": "magiclink", "token": token}
	if err := c.post(ctx, "/auth/v1/verify", "", body, &session); err != nil {
		return nil, fmt.Errorf("verifying magic-link token: %w", err)
	}
	if session.AccessToken == "" || session.User.ID == "" {
		return nil, &AuthError{Message: "verification response missing session"}
	}

	c.storeSession(&session)
	c.notify(&session.User)
	return &session.User, nil
}

// CurrentUser returns the user of the persisted session, validating it
// against the auth service. Returns (nil, nil) when no session exists or
// the stored one is no longer accepted.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	session := c.loadSession()
	if session == nil {
		return nil, nil
	}

	var user User
	err := c.get(ctx, "/auth/v1/user", session.AccessToken, &user)
	if IsAuthError(err) {
		// Stored session has expired or been revoked server-side.
		c.logger.Info("stored session no longer valid, clearing")
		c.clearSession()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validating session: %w", err)
	}
	return &user, nil
}

// SignOut revokes the session with the auth service, drops the persisted
// copy, and notifies subscribers. Revocation failures are logged but do
// not keep the local session alive.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.loadSession()
	if session == nil {
		return nil
	}

	if err := c.post(ctx, "/auth/v1/logout", session.AccessToken, nil, nil); err != nil && !IsAuthError(err) {
		c.logger.Error("revoking session", "err", err)
	}

	c.clearSession()
	c.notify(nil)
	return nil
}

// loadSession returns the cached session, reading the persisted copy on
// first use.
func (c *Client) loadSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.session
	}
	c.loaded = true

	raw, err := c.sessions.Load()
	if err != nil || raw == "" {
		return nil
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		c.logger.Error("parsing stored session", "err", err)
		return nil
	}
	c.session = &session
	return c.session
}

func (c *Client) storeSession(session *Session) {
	c.mu.Lock()
	c.session = session
	c.loaded = true
	c.mu.Unlock()

	raw, err := json.Marshal(session)
	if err != nil {
		c.logger.Error("serializing session", "err", err)
		return
	}
	if err := c.sessions.Save(string(raw)); err != nil {
		// In-memory session still works for this run.
		c.logger.Error("persisting session", "err", err)
	}
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()

	if err := c.sessions.Delete(); err != nil {
		c.logger.Error("deleting stored session", "err", err)
	}
}

func (c *Client) notify(u *User) {
	c.mu.Lock()
	subs := append([]func(*User){}, c.subs...)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

// get performs an authenticated GET and unmarshals the JSON response.
func (c *Client) get(ctx context.Context, path, token string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, token, nil, result)
}

// post performs a POST with an optional JSON body and unmarshals the
// JSON response when result is non-nil.
func (c *Client) post(ctx context.Context, path, token string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, token, body, result)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, result interface{}) error {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{
			Message: fmt.Sprintf("%s %s rejected (%d)", method, path, resp.StatusCode),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf(
			"unexpected status %d on %s %s: %s",
			resp.StatusCode, method, path, string(respBody),
		)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s: %w", path, err)
		}
	}
	return nil
}

// keyringSessions persists the session through the system keyring.
type keyringSessions struct{}

// KeyringSessions returns the production SessionStore backed by
// internal/credential.
func KeyringSessions() SessionStore {
	return keyringSessions{}
}

func (keyringSessions) Load() (string, error) {
	value, err := credential.Get(sessionKey)
	if err != nil {
		// Treat a missing entry the same as no session.
		return "", nil
	}
	return value, nil
}

func (keyringSessions) Save(value string) error {
	return credential.Set(sessionKey, value)
}

func (keyringSessions) Delete() error {
	if err := credential.Delete(sessionKey); err != nil {
		// Removing an absent entry is fine.
		return nil
	}
	return nil
}
