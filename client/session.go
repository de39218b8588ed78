// Package client implements the client side of the session lifecycle: it
// holds the current token pair, refreshes it proactively before expiry, and
// recovers once from authentication rejections. All session mutation goes
// through SessionManager; nothing else touches the stored tokens.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrAnonymous is returned when an operation needs a session and none is held.
	ErrAnonymous = errors.New("not authenticated")
	// ErrSessionExpired is returned when a refresh fails and the session has
	// been cleared. The caller should send the user back to login; retrying
	// is pointless.
	ErrSessionExpired = errors.New("session expired")
)

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

const (
	// defaultRefreshLead is how long before access-token expiry the proactive
	// refresh fires.
	defaultRefreshLead = 5 * time.Minute
	// defaultRefreshTimeout bounds a refresh call; past it the refresh is a
	// failure and the session is cleared rather than left ambiguous.
	defaultRefreshTimeout = 10 * time.Second
)

// SessionManager owns the client's session state: the current pair, its
// absolute expiry, the proactive-refresh timer, and the single-flight guard
// shared by the timer and the reactive path.
type SessionManager struct {
	baseURL string
	httpc   *http.Client
	store   TokenStore

	refreshLead    time.Duration
	refreshTimeout time.Duration

	// onExpired, when set, is called after the session is cleared because a
	// refresh failed. Used to route the user to the login surface.
	onExpired func()

	sf singleflight.Group

	mu             sync.Mutex
	accessToken    string
	refreshToken   string
	tokenExpiresAt time.Time
	timer          *time.Timer
}

// NewSessionManager returns a SessionManager for the auth service at baseURL.
// httpc may be nil; http.DefaultClient is then used. A previously stored pair
// in store is picked up and its refresh timer armed.
func NewSessionManager(baseURL string, store TokenStore, httpc *http.Client) *SessionManager {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if store == nil {
		store = NewMemoryStore()
	}
	m := &SessionManager{
		baseURL:        baseURL,
		httpc:          httpc,
		store:          store,
		refreshLead:    defaultRefreshLead,
		refreshTimeout: defaultRefreshTimeout,
	}
	if pair, ok, err := store.Load(); err == nil && ok {
		m.setPair(pair)
	}
	return m
}

// OnSessionExpired registers cb to run whenever the session transitions to
// anonymous because a refresh failed.
func (m *SessionManager) OnSessionExpired(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = cb
}

// Authenticated reports whether a session is currently held.
func (m *SessionManager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken != ""
}

// AccessToken returns the current access token and whether one is held.
func (m *SessionManager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken, m.accessToken != ""
}

// TokenExpiresAt returns the absolute expiry of the current access token.
func (m *SessionManager) TokenExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenExpiresAt
}

// Login exchanges credentials for a token pair and arms the refresh timer.
func (m *SessionManager) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	pair, err := m.postForPair(ctx, "/api/v1/auth/login", body)
	if err != nil {
		return err
	}
	m.setPair(*pair)
	return nil
}

// Register creates an account (and organization when orgName is non-empty)
// and starts a session, like Login.
func (m *SessionManager) Register(ctx context.Context, email, password, name, orgName string) error {
	body := map[string]string{"email": email, "password": password, "name": name}
	if orgName != "" {
		body["organization_name"] = orgName
	}
	pair, err := m.postForPair(ctx, "/api/v1/auth/register", body)
	if err != nil {
		return err
	}
	m.setPair(*pair)
	return nil
}

// Refresh exchanges the held refresh token for a new pair. Concurrent callers
// share one in-flight exchange: the proactive timer and any number of
// rejected requests collapse onto a single network call. On failure the
// session is cleared and ErrSessionExpired returned; the caller must not
// retry.
func (m *SessionManager) Refresh(ctx context.Context) error {
	_, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		return nil, m.doRefresh()
	})
	if err != nil {
		return err
	}
	// The shared exchange may have finished after our caller gave up.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// doRefresh runs outside the caller's context: the exchange is shared, so it
// gets its own bounded deadline rather than the shortest caller's.
func (m *SessionManager) doRefresh() error {
	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()
	if refreshToken == "" {
		return ErrAnonymous
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	pair, err := m.postForPair(ctx, "/api/v1/auth/refresh", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		m.clearSession(true)
		return ErrSessionExpired
	}
	m.setPair(*pair)
	return nil
}

// Logout revokes the session server-side (best effort) and always clears
// local state and cancels the pending timer.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()

	if refreshToken != "" {
		body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/v1/auth/logout", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			if resp, err := m.httpc.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
	m.clearSession(false)
	return nil
}

// Do sends req with the current access token attached. On a 401 the token is
// assumed stale: refresh once and resend the request exactly once. A 401 on
// the retry is handed back to the caller; there is no loop.
func (m *SessionManager) Do(req *http.Request) (*http.Response, error) {
	token, authed := m.AccessToken()
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := m.httpc.Do(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !authed {
		return resp, err
	}

	retry := req.Clone(req.Context())
	if req.Body != nil {
		// Replaying a consumed body needs GetBody; without it the original
		// rejection stands.
		if req.GetBody == nil {
			return resp, nil
		}
		body, berr := req.GetBody()
		if berr != nil {
			return resp, nil
		}
		retry.Body = body
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if err := m.Refresh(req.Context()); err != nil {
		return nil, err
	}
	token, _ = m.AccessToken()
	retry.Header.Set("Authorization", "Bearer "+token)
	return m.httpc.Do(retry)
}

// setPair replaces the session wholesale: tokens, absolute expiry, storage,
// and the proactive timer.
func (m *SessionManager) setPair(pair TokenPair) {
	expiresAt := time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second)

	m.mu.Lock()
	m.accessToken = pair.AccessToken
	m.refreshToken = pair.RefreshToken
	m.tokenExpiresAt = expiresAt
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(refreshDelay(expiresAt, m.refreshLead, time.Now()), func() {
		_ = m.Refresh(context.Background())
	})
	m.mu.Unlock()

	_ = m.store.Save(pair)
}

// clearSession tears the session down: timer cancelled, state zeroed, storage
// cleared. expired selects whether the onExpired callback fires.
func (m *SessionManager) clearSession(expired bool) {
	m.mu.Lock()
	m.accessToken = ""
	m.refreshToken = ""
	m.tokenExpiresAt = time.Time{}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	cb := m.onExpired
	m.mu.Unlock()

	_ = m.store.Clear()
	if expired && cb != nil {
		cb()
	}
}

// refreshDelay computes when the proactive refresh should fire: lead before
// expiry, or halfway to expiry when the lifetime is shorter than the lead.
func refreshDelay(expiresAt time.Time, lead time.Duration, now time.Time) time.Duration {
	until := expiresAt.Sub(now)
	d := until - lead
	if d < 0 {
		d = until / 2
	}
	if d < 0 {
		d = 0
	}
	return d
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// postForPair posts body as JSON and decodes a token pair from the envelope.
func (m *SessionManager) postForPair(ctx context.Context, path string, body map[string]string) (*TokenPair, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Code: "Internal", Message: "request failed"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	var pair TokenPair
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}
