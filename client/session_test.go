package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writePair(w http.ResponseWriter, pair TokenPair) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    pair,
	})
}

func writeFailure(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"code": code, "message": code},
	})
}

func TestLoginStoresPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "alice@example.com" {
			t.Errorf("email = %q", body["email"])
		}
		writePair(w, TokenPair{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresIn: 3600})
	}))
	defer srv.Close()

	store := NewMemoryStore()
	m := NewSessionManager(srv.URL, store, nil)
	if err := m.Login(context.Background(), "alice@example.com", "Str0ngPass!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if tok, ok := m.AccessToken(); !ok || tok != "acc-1" {
		t.Fatalf("access token = %q, %v", tok, ok)
	}
	if !m.Authenticated() {
		t.Fatal("not authenticated after login")
	}
	pair, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("store load: %v %v", ok, err)
	}
	if pair.RefreshToken != "ref-1" {
		t.Fatalf("stored refresh = %q", pair.RefreshToken)
	}
	if until := time.Until(m.TokenExpiresAt()); until < 59*time.Minute || until > 61*time.Minute {
		t.Fatalf("expiry %v away, want ~1h", until)
	}
}

func TestLoginFailureSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusUnauthorized, "InvalidCredentials")
	}))
	defer srv.Close()

	m := NewSessionManager(srv.URL, nil, nil)
	err := m.Login(context.Background(), "alice@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "InvalidCredentials" || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if m.Authenticated() {
		t.Fatal("authenticated after failed login")
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	var refreshCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writePair(w, TokenPair{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresIn: 3600})
		case "/api/v1/auth/refresh":
			n := atomic.AddInt32(&refreshCalls, 1)
			// Hold the exchange open long enough for every caller to join it.
			time.Sleep(200 * time.Millisecond)
			writePair(w, TokenPair{
				AccessToken:  fmt.Sprintf("acc-%d", n+1),
				RefreshToken: fmt.Sprintf("ref-%d", n+1),
				ExpiresIn:    3600,
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := NewSessionManager(srv.URL, nil, nil)
	if err := m.Login(context.Background(), "a@b.co", "Str0ngPass!"); err != nil {
		t.Fatalf("login: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Fatalf("refresh network calls = %d, want 1", n)
	}
	if tok, _ := m.AccessToken(); tok != "acc-2" {
		t.Fatalf("access token = %q, want acc-2", tok)
	}
}

func TestRefreshFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writePair(w, TokenPair{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresIn: 3600})
		case "/api/v1/auth/refresh":
			writeFailure(w, http.StatusUnauthorized, "InvalidRefreshToken")
		}
	}))
	defer srv.Close()

	store := NewMemoryStore()
	m := NewSessionManager(srv.URL, store, nil)
	if err := m.Login(context.Background(), "a@b.co", "Str0ngPass!"); err != nil {
		t.Fatalf("login: %v", err)
	}

	expired := make(chan struct{}, 1)
	m.OnSessionExpired(func() { expired <- struct{}{} })

	if err := m.Refresh(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if m.Authenticated() {
		t.Fatal("still authenticated after failed refresh")
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatal("store not cleared after failed refresh")
	}
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("onExpired not called")
	}

	// A second refresh finds no session; it must not loop back to the server.
	if err := m.Refresh(context.Background()); !errors.Is(err, ErrAnonymous) {
		t.Fatalf("second refresh: err = %v, want ErrAnonymous", err)
	}
}

func TestDoRetriesOnceAfter401(t *testing.T) {
	var refreshCalls, protectedCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writePair(w, TokenPair{AccessToken: "stale", RefreshToken: "ref-1", ExpiresIn: 3600})
		case "/api/v1/auth/refresh":
			atomic.AddInt32(&refreshCalls, 1)
			writePair(w, TokenPair{AccessToken: "fresh", RefreshToken: "ref-2", ExpiresIn: 3600})
		case "/data":
			atomic.AddInt32(&protectedCalls, 1)
			if r.Header.Get("Authorization") != "Bearer fresh" {
				writeFailure(w, http.StatusUnauthorized, "Unauthenticated")
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	m := NewSessionManager(srv.URL, nil, nil)
	if err := m.Login(context.Background(), "a@b.co", "Str0ngPass!"); err != nil {
		t.Fatalf("login: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/data", strings.NewReader(`{"x":1}`))
	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if n := atomic.LoadInt32(&protectedCalls); n != 2 {
		t.Fatalf("protected calls = %d, want 2", n)
	}
}

func TestDoConcurrent401sShareOneRefresh(t *testing.T) {
	var refreshCalls int32
	var mu sync.Mutex
	valid := "stale"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writePair(w, TokenPair{AccessToken: "stale", RefreshToken: "ref-1", ExpiresIn: 3600})
		case "/api/v1/auth/refresh":
			n := atomic.AddInt32(&refreshCalls, 1)
			time.Sleep(200 * time.Millisecond)
			mu.Lock()
			valid = fmt.Sprintf("acc-%d", n)
			token := valid
			mu.Unlock()
			writePair(w, TokenPair{AccessToken: token, RefreshToken: fmt.Sprintf("ref-%d", n+1), ExpiresIn: 3600})
		case "/data":
			mu.Lock()
			want := "Bearer " + valid
			mu.Unlock()
			if r.Header.Get("Authorization") != want || want == "Bearer stale" {
				writeFailure(w, http.StatusUnauthorized, "Unauthenticated")
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	m := NewSessionManager(srv.URL, nil, nil)
	if err := m.Login(context.Background(), "a@b.co", "Str0ngPass!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	// The server no longer accepts the login-issued token, so every request
	// below is rejected and must recover through one shared refresh.

	var wg sync.WaitGroup
	statuses := make([]int, 3)
	errs := make([]error, 3)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/data", nil)
			resp, err := m.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i := range statuses {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if statuses[i] != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, statuses[i])
		}
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Fatalf("refresh network calls = %d, want 1", n)
	}
}

func TestDoDoesNotLoopOnRepeated401(t *testing.T) {
	var protectedCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writePair(w, TokenPair{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresIn: 3600})
		case "/api/v1/auth/refresh":
			writePair(w, TokenPair{AccessToken: "acc-2", RefreshToken: "ref-2", ExpiresIn: 3600})
		case "/data":
			atomic.AddInt32(&protectedCalls, 1)
			writeFailure(w, http.StatusUnauthorized, "Unauthenticated")
		}
	}))
	defer srv.Close()

	m := NewSessionManager(srv.URL, nil, nil)
	if err := m.Login(context.Background(), "a@b.co", "Str0ngPass!"); err != nil {
		t.Fatalf("login: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/data", nil)
	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&protectedCalls); n != 2 {
		t.Fatalf("protected calls = %d, want exactly 2", n)
	}
}

func TestLogoutClearsLocalStateEvenIfServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePair(w, TokenPair{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresIn: 3600})
	}))

	store := NewMemoryStore()
	m := NewSessionManager(srv.URL, store, nil)
	if err := m.Login(context.Background(), "a@b.co", "Str0ngPass!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	srv.Close()

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if m.Authenticated() {
		t.Fatal("authenticated after logout")
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatal("store not cleared after logout")
	}
}

func TestRefreshDelay(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name      string
		expiresAt time.Time
		want      time.Duration
	}{
		{"normal lead", now.Add(time.Hour), 55 * time.Minute},
		{"short lifetime", now.Add(2 * time.Minute), time.Minute},
		{"already expired", now.Add(-time.Minute), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := refreshDelay(tc.expiresAt, 5*time.Minute, now)
			if got != tc.want {
				t.Fatalf("delay = %v, want %v", got, tc.want)
			}
		})
	}
}
