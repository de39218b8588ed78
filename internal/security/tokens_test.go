package security

import (
	"testing"
	"time"
)

func newTestProvider(ttl time.Duration) *TokenProvider {
	return NewTokenProvider([]byte("test-secret-at-least-32-bytes-long!!"), "scp-auth", "scp-api", ttl)
}

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p := newTestProvider(time.Hour)
	token, expiresAt, err := p.IssueAccess("user-1", "alice@example.com", "owner", "org-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" {
		t.Fatal("IssueAccess returned empty token")
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiresAt %v not ~1h out", until)
	}

	claims, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", claims.Email)
	}
	if claims.Role != "owner" {
		t.Errorf("Role = %q, want owner", claims.Role)
	}
	if claims.OrgID != "org-1" {
		t.Errorf("OrgID = %q, want org-1", claims.OrgID)
	}
}

func TestTokenProvider_ExpiredTokenCollapses(t *testing.T) {
	p := newTestProvider(-time.Minute)
	token, _, err := p.IssueAccess("user-1", "a@b.co", "", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Fatalf("expired token: err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_WrongSecretCollapses(t *testing.T) {
	p := newTestProvider(time.Hour)
	other := NewTokenProvider([]byte("a-completely-different-signing-key!!"), "scp-auth", "scp-api", time.Hour)
	token, _, _ := other.IssueAccess("user-1", "a@b.co", "", "")
	if _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Fatalf("wrong secret: err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_WrongIssuerOrAudience(t *testing.T) {
	p := newTestProvider(time.Hour)
	badIss := NewTokenProvider([]byte("test-secret-at-least-32-bytes-long!!"), "someone-else", "scp-api", time.Hour)
	token, _, _ := badIss.IssueAccess("user-1", "a@b.co", "", "")
	if _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Fatalf("wrong issuer: err = %v, want ErrInvalidToken", err)
	}

	badAud := NewTokenProvider([]byte("test-secret-at-least-32-bytes-long!!"), "scp-auth", "other-api", time.Hour)
	token, _, _ = badAud.IssueAccess("user-1", "a@b.co", "", "")
	if _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Fatalf("wrong audience: err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_MalformedTokenCollapses(t *testing.T) {
	p := newTestProvider(time.Hour)
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := p.ValidateAccess(tok); err != ErrInvalidToken {
			t.Errorf("malformed %q: err = %v, want ErrInvalidToken", tok, err)
		}
	}
}
