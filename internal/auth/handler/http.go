// Package handler exposes the auth protocol over HTTP with the shared JSON
// envelope. It maps service sentinels to envelope codes and never forwards
// internal error detail to the client.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"session-control-plane/internal/auth"
	"session-control-plane/internal/ratelimit"
	"session-control-plane/internal/server/middleware"
	"session-control-plane/internal/server/respond"
)

// Envelope error codes per endpoint.
const (
	CodeInvalidCredentials  = "InvalidCredentials"
	CodeEmailTaken          = "EmailTaken"
	CodeValidationError     = "ValidationError"
	CodeInvalidRefreshToken = "InvalidRefreshToken"
	CodeUnauthenticated     = "Unauthenticated"
	CodeRateLimited         = "RateLimited"
	CodeInternal            = "Internal"
)

// Handler serves the /api/v1/auth endpoints.
type Handler struct {
	svc     *auth.Service
	limiter *ratelimit.Limiter
}

// New returns a Handler for svc. limiter may be nil to disable throttling.
func New(svc *auth.Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	Name             string `json:"name"`
	OrganizationName string `json:"organization_name,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type profileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	OrgID     string    `json:"org_id,omitempty"`
	OrgName   string    `json:"org_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type historyEventResponse struct {
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	ctx := r.Context()
	if err := h.limiter.AllowLogin(ctx, req.Email, middleware.GetClientIP(ctx)); err != nil {
		// Fail open when the limiter backend is down; throttling is an extra
		// guard, not a dependency of login.
		if !errors.Is(err, ratelimit.ErrUnavailable) {
			h.writeError(w, err)
			return
		}
		log.Printf("auth: login limiter: %v", err)
	}
	pair, err := h.svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, toPairResponse(pair))
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	pair, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name, req.OrganizationName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, toPairResponse(pair))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	ctx := r.Context()
	if err := h.limiter.AllowRefresh(ctx, middleware.GetClientIP(ctx)); err != nil {
		if !errors.Is(err, ratelimit.ErrUnavailable) {
			h.writeError(w, err)
			return
		}
		log.Printf("auth: refresh limiter: %v", err)
	}
	pair, err := h.svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, toPairResponse(pair))
}

// Logout handles POST /api/v1/auth/logout. Always reports success to the
// caller; a storage failure is logged server-side only.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = decodeJSON(r, &req)
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		log.Printf("auth: logout: %v", err)
	}
	respond.OK(w, struct{}{})
}

// LogoutAll handles POST /api/v1/auth/logout_all. Revokes every refresh token
// the authenticated user owns.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	if err := h.svc.LogoutAll(r.Context(), userID); err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, struct{}{})
}

// Me handles GET /api/v1/auth/me. RequireAuth has already verified the access
// token and stored the subject in context.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	profile, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, profileResponse{
		ID:        profile.ID,
		Email:     profile.Email,
		Name:      profile.Name,
		Role:      profile.Role,
		OrgID:     profile.OrgID,
		OrgName:   profile.OrgName,
		CreatedAt: profile.CreatedAt,
	})
}

// History handles GET /api/v1/auth/history. Returns the authenticated user's
// recorded auth events, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	limit := int32(20)
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = int32(n)
		}
	}
	events, err := h.svc.Activity(r.Context(), userID, limit, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]historyEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, historyEventResponse{
			Action:    e.Action,
			IP:        e.IP,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	respond.OK(w, out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respond.Error(w, http.StatusUnauthorized, CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, auth.ErrEmailTaken):
		respond.Error(w, http.StatusConflict, CodeEmailTaken, "email already registered")
	case errors.Is(err, auth.ErrValidation):
		respond.Error(w, http.StatusBadRequest, CodeValidationError, err.Error())
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		respond.Error(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "invalid or expired refresh token")
	case errors.Is(err, auth.ErrUnauthenticated):
		respond.Error(w, http.StatusUnauthorized, CodeUnauthenticated, "missing or invalid authorization")
	case errors.Is(err, ratelimit.ErrRateLimited):
		respond.Error(w, http.StatusTooManyRequests, CodeRateLimited, "too many attempts, try again later")
	default:
		log.Printf("auth: internal error: %v", err)
		respond.Error(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

func toPairResponse(p *auth.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn,
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
