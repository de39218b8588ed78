// Package auth orchestrates the credential and session lifecycle: register,
// login, refresh-token rotation, logout, and identity resolution.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"session-control-plane/internal/audit"
	auditdomain "session-control-plane/internal/audit/domain"
	orgdomain "session-control-plane/internal/organization/domain"
	"session-control-plane/internal/security"
	tokendomain "session-control-plane/internal/token/domain"
	userdomain "session-control-plane/internal/user/domain"
)

// Sentinel errors for the auth service; the handler maps them to envelope
// codes and HTTP status. Credential and refresh lookups deliberately collapse
// every underlying cause into one sentinel so nothing leaks past the trust
// boundary.
var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrUnauthenticated     = errors.New("unauthenticated")
	// ErrValidation wraps field validation failures; these may stay specific.
	ErrValidation = errors.New("validation failed")
)

// TokenPair is the ephemeral value returned to the client on register, login,
// and refresh. RefreshToken is the raw secret; the server keeps only its hash.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is seconds until the access token expires.
	ExpiresIn int64
}

// Profile is the public view of a user, returned by Me.
type Profile struct {
	ID        string
	Email     string
	Name      string
	Role      string
	OrgID     string
	OrgName   string
	CreatedAt time.Time
}

// Event is one recorded auth action, returned by Activity.
type Event struct {
	Action    string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	CreateWithOrganization(ctx context.Context, u *userdomain.User, org *orgdomain.Org) error
}

// OrgRepo resolves organizations for profile responses.
type OrgRepo interface {
	GetByID(ctx context.Context, id string) (*orgdomain.Org, error)
}

// AuditReader reads back persisted auth events for the history endpoint.
type AuditReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

// TokenRepo is the minimal refresh-token repository needed by the auth service.
type TokenRepo interface {
	GetByHash(ctx context.Context, tokenHash string) (*tokendomain.RefreshToken, error)
	Create(ctx context.Context, t *tokendomain.RefreshToken) error
	Rotate(ctx context.Context, oldID string, replacement *tokendomain.RefreshToken) (bool, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Service implements the auth protocol state machine.
type Service struct {
	users      UserRepo
	orgs       OrgRepo
	tokens     TokenRepo
	hasher     *security.Hasher
	issuer     *security.TokenProvider
	refreshTTL time.Duration
	audit      audit.AuditLogger
	events     AuditReader
}

// NewService returns a Service with the given dependencies. auditLogger may be
// nil; events are then dropped. orgs and events may be nil; profiles then omit
// the organization name and Activity returns an empty history.
func NewService(users UserRepo, orgs OrgRepo, tokens TokenRepo, hasher *security.Hasher, issuer *security.TokenProvider, refreshTTL time.Duration, auditLogger audit.AuditLogger, events AuditReader) *Service {
	return &Service{
		users:      users,
		orgs:       orgs,
		tokens:     tokens,
		hasher:     hasher,
		issuer:     issuer,
		refreshTTL: refreshTTL,
		audit:      auditLogger,
		events:     events,
	}
}

// Register creates a user (and organization, when orgName is non-empty) and
// returns a fresh token pair, behaving like Login's success path.
func (s *Service) Register(ctx context.Context, email, password, name, orgName string) (*TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		Role:         userdomain.RoleMember,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	orgName = strings.TrimSpace(orgName)
	if orgName != "" {
		org := &orgdomain.Org{
			ID:        uuid.New().String(),
			Name:      orgName,
			Status:    orgdomain.OrgStatusActive,
			CreatedAt: now,
		}
		user.Role = userdomain.RoleOwner
		user.OrgID = org.ID
		if err := user.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}
		if err := s.users.CreateWithOrganization(ctx, user, org); err != nil {
			// The pre-insert lookup can lose to a concurrent registration;
			// the unique index is the arbiter.
			if errors.Is(err, userdomain.ErrDuplicateEmail) {
				return nil, ErrEmailTaken
			}
			return nil, err
		}
	} else {
		if err := user.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, userdomain.ErrDuplicateEmail) {
				return nil, ErrEmailTaken
			}
			return nil, err
		}
	}

	s.logEvent(ctx, user, "auth.register", "")
	return s.issueTokens(ctx, user)
}

// Login authenticates with email/password and returns a token pair. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		s.logFailed(ctx, email, "auth.login_failed")
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(user.PasswordHash, []byte(password)) {
		s.logFailed(ctx, email, "auth.login_failed")
		return nil, ErrInvalidCredentials
	}

	s.logEvent(ctx, user, "auth.login", "")
	return s.issueTokens(ctx, user)
}

// Refresh exchanges a valid refresh secret for a new token pair, rotating the
// stored record. The presented secret never validates again afterwards, even
// when two requests race: the store's transactional rotate lets exactly one
// win.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	rec, err := s.tokens.GetByHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	// The index lookup found the row; re-verify the digest in constant time
	// before trusting it.
	if rec == nil || !security.RefreshTokenHashEqual(refreshToken, rec.TokenHash) || !rec.Usable(now) {
		s.logFailed(ctx, "", "auth.refresh_rejected")
		return nil, ErrInvalidRefreshToken
	}
	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidRefreshToken
	}

	_ = s.tokens.TouchLastUsed(ctx, rec.ID, now)

	newSecret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	replacement := &tokendomain.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: security.HashRefreshToken(newSecret),
		UserID:    user.ID,
		OrgID:     user.OrgID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	ok, err := s.tokens.Rotate(ctx, rec.ID, replacement)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the rotation race; the token was revoked between lookup and
		// rotate. Same collapsed outcome as any other invalid token.
		s.logFailed(ctx, user.Email, "auth.refresh_rejected")
		return nil, ErrInvalidRefreshToken
	}

	accessToken, _, err := s.issuer.IssueAccess(user.ID, user.Email, string(user.Role), user.OrgID)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, user, "auth.refresh", "")
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newSecret,
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes the token matching the presented secret. Unknown, expired,
// and already-revoked secrets are all treated as success; only a storage
// failure is an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	rec, err := s.tokens.GetByHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := s.tokens.Revoke(ctx, rec.ID); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, rec.OrgID, rec.UserID, "auth.logout", "auth", "")
	}
	return nil
}

// LogoutAll revokes every live refresh token the user owns. Used when the
// account may be compromised; the caller keeps their access token until it
// expires, but no session can be renewed.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUnauthenticated
	}
	if err := s.tokens.RevokeAllByUser(ctx, userID); err != nil {
		return err
	}
	s.logEvent(ctx, user, "auth.logout_all", "")
	return nil
}

// Me resolves the user behind a verified access token's subject.
func (s *Service) Me(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrUnauthenticated
	}
	profile := &Profile{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      string(user.Role),
		OrgID:     user.OrgID,
		CreatedAt: user.CreatedAt,
	}
	if user.OrgID != "" && s.orgs != nil {
		org, err := s.orgs.GetByID(ctx, user.OrgID)
		if err != nil {
			return nil, err
		}
		if org != nil {
			profile.OrgName = org.Name
		}
	}
	return profile, nil
}

// Activity returns the user's recorded auth events, newest first. Backs the
// history endpoint so a user can spot sessions they did not start.
func (s *Service) Activity(ctx context.Context, userID string, limit, offset int32) ([]Event, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if s.events == nil {
		return []Event{}, nil
	}
	logs, err := s.events.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(logs))
	for _, l := range logs {
		out = append(out, Event{
			Action:    l.Action,
			IP:        l.IP,
			Metadata:  l.Metadata,
			CreatedAt: l.CreatedAt,
		})
	}
	return out, nil
}

// issueTokens issues the access token and persists a new refresh record for
// user. The raw secret is hashed immediately; only the pair travels back.
func (s *Service) issueTokens(ctx context.Context, user *userdomain.User) (*TokenPair, error) {
	accessToken, _, err := s.issuer.IssueAccess(user.ID, user.Email, string(user.Role), user.OrgID)
	if err != nil {
		return nil, err
	}
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &tokendomain.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: security.HashRefreshToken(secret),
		UserID:    user.ID,
		OrgID:     user.OrgID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: secret,
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
	}, nil
}

func (s *Service) logEvent(ctx context.Context, user *userdomain.User, action, metadata string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, user.OrgID, user.ID, action, "auth", metadata)
}

func (s *Service) logFailed(ctx context.Context, subject, action string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, "", subject, action, "auth", "")
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	var hasUpper, hasLower, hasNumber bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasUpper {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrValidation)
	}
	if !hasLower {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrValidation)
	}
	if !hasNumber {
		return fmt.Errorf("%w: password must contain at least one number", ErrValidation)
	}
	return nil
}
