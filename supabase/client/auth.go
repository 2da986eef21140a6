package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// refreshMargin is how close to expiry a token may get before auto refresh.
const refreshMargin = 30 * time.Second

var (
	// ErrNoSession is returned by operations that need a signed-in user.
	ErrNoSession = errors.New("no active session")
	// ErrSessionRevoked is returned when GoTrue rejects the refresh token.
	// The session has been cleared by then.
	ErrSessionRevoked = errors.New("session revoked")
)

// Credentials are email/password sign-in credentials.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is a GoTrue session.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// Expired reports whether the access token expires within margin of now.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(margin).Unix() >= s.ExpiresAt
}

// User represents a Supabase user.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Role             string         `json:"role"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// Auth returns the auth client.
func (c *Client) Auth() *AuthClient {
	return c.auth
}

// AuthClient handles authentication operations and owns the current session.
type AuthClient struct {
	client      *Client
	store       SessionStore
	persist     bool
	autoRefresh bool
	now         func() time.Time

	mu      sync.Mutex
	session *Session
	loaded  bool
}

// SignUp creates a new user. GoTrue returns a session when email
// confirmation is disabled; it becomes the current session.
func (a *AuthClient) SignUp(ctx context.Context, creds Credentials) (*Session, error) {
	sess, err := a.tokenRequest(ctx, "/auth/v1/signup", creds)
	if err != nil {
		return nil, err
	}
	if sess.AccessToken != "" {
		if err := a.setSession(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// SignInWithPassword signs a user in and makes the session current.
func (a *AuthClient) SignInWithPassword(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, errors.New("email and password are required")
	}
	sess, err := a.tokenRequest(ctx, "/auth/v1/token?grant_type=password", creds)
	if err != nil {
		return nil, err
	}
	if err := a.setSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RefreshSession exchanges the current refresh token for a new session.
func (a *AuthClient) RefreshSession(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.RefreshToken == "" {
		return nil, ErrNoSession
	}
	return a.refreshLocked(ctx, cur.RefreshToken)
}

// SignOut revokes the current session and clears it locally.
func (a *AuthClient) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.currentLocked(ctx)
	if err != nil {
		return err
	}
	if cur != nil && cur.AccessToken != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.baseURL+"/auth/v1/logout", nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		a.client.setKeyHeaders(req, cur.AccessToken)
		resp, err := a.client.do(req)
		if err != nil {
			return err
		}
		// An already invalid token still ends the local session.
		if err := resp.Error(); err != nil && resp.StatusCode != http.StatusUnauthorized {
			return err
		}
	}

	return a.clearLocked(ctx)
}

func (a *AuthClient) clearLocked(ctx context.Context) error {
	a.session = nil
	if a.persist {
		if err := a.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	}
	return nil
}

// GetUser returns the user of the current session.
func (a *AuthClient) GetUser(ctx context.Context) (*User, error) {
	sess, err := a.Session(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.client.setKeyHeaders(req, sess.AccessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &user, nil
}

// Session returns the current session, loading it from the store on first
// use and refreshing it when auto refresh is on and it is about to expire.
// A nil session with a nil error means nobody is signed in.
func (a *AuthClient) Session(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.currentLocked(ctx)
	if err != nil || cur == nil {
		return nil, err
	}
	if a.autoRefresh && cur.RefreshToken != "" && cur.Expired(a.now(), refreshMargin) {
		sess, err := a.refreshLocked(ctx, cur.RefreshToken)
		if errors.Is(err, ErrSessionRevoked) {
			// Signed out: requests fall back to the API key.
			return nil, nil
		}
		return sess, err
	}
	return cur, nil
}

func (a *AuthClient) currentLocked(ctx context.Context) (*Session, error) {
	if a.session == nil && a.persist && !a.loaded {
		sess, err := a.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		a.session = sess
		a.loaded = true
	}
	return a.session, nil
}

func (a *AuthClient) refreshLocked(ctx context.Context, refreshToken string) (*Session, error) {
	sess, err := a.tokenRequest(ctx, "/auth/v1/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			if cerr := a.clearLocked(ctx); cerr != nil {
				return nil, cerr
			}
			return nil, fmt.Errorf("refresh session: %w: %v", ErrSessionRevoked, err)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := a.storeLocked(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *AuthClient) setSession(ctx context.Context, sess *Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storeLocked(ctx, sess)
}

func (a *AuthClient) storeLocked(ctx context.Context, sess *Session) error {
	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = a.now().Add(time.Duration(sess.ExpiresIn) * time.Second).Unix()
	}
	a.session = sess
	if a.persist {
		if err := a.store.Save(ctx, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

func (a *AuthClient) tokenRequest(ctx context.Context, path string, payload any) (*Session, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.client.setKeyHeaders(req, a.client.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var sess Session
	if err := resp.JSON(&sess); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &sess, nil
}
