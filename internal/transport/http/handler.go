package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"edu-platform/auth/internal/audit"
	identityservice "edu-platform/auth/internal/identity/service"
	otpservice "edu-platform/auth/internal/otp/service"
	"edu-platform/auth/internal/platform/apperr"
	"edu-platform/auth/internal/platform/rbac"
	"edu-platform/auth/internal/security"
	sessiondomain "edu-platform/auth/internal/session/domain"
	sessionservice "edu-platform/auth/internal/session/service"
	userdomain "edu-platform/auth/internal/user/domain"
)

const maxBodyBytes = 1 << 20

// Authenticator logs users in.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string, allowedRoles userdomain.RoleSet, device *security.DeviceInfo) (*identityservice.LoginResult, error)
}

// SessionManager is the session surface the handlers use.
type SessionManager interface {
	RefreshTokens(ctx context.Context, refreshToken string, device *security.DeviceInfo) (*sessionservice.TokenPair, error)
	ValidateSession(ctx context.Context, sessionID string) (sessionservice.SessionValidation, error)
	ValidateAccessToken(ctx context.Context, token string) *security.AccessClaims
	InvalidateSession(ctx context.Context, sessionID, reason string) error
	InvalidateAllUserSessions(ctx context.Context, userID string) (sessions, tokens int64, err error)
	ListActiveSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// OTPService sends and checks one-time codes.
type OTPService interface {
	SendWithFallback(ctx context.Context, userID, target string, isEmailTarget bool) (*otpservice.Delivery, error)
	SendForIdentifier(ctx context.Context, identifier string) (*otpservice.Delivery, error)
	Verify(ctx context.Context, target, code string) error
}

type handler struct {
	auth     Authenticator
	sessions SessionManager
	otp      OTPService
	logger   *slog.Logger
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

type tokenResponse struct {
	AccessToken      string        `json:"accessToken"`
	RefreshToken     string        `json:"refreshToken"`
	SessionID        string        `json:"sessionId"`
	AccessExpiresAt  time.Time     `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time     `json:"refreshExpiresAt"`
	User             *userResponse `json:"user,omitempty"`
}

type sessionResponse struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"deviceId,omitempty"`
	DeviceName   string    `json:"deviceName,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

type otpSendRequest struct {
	Target string `json:"target"`
}

type otpSendResponse struct {
	Channel     string    `json:"channel"`
	DeliveredTo string    `json:"deliveredTo"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type recoverySendRequest struct {
	Identifier string `json:"identifier"`
}

// recoveryAccepted is the only success body of the recovery send route.
const recoveryAccepted = "If the account exists, a code has been sent"

type otpVerifyRequest struct {
	Target string `json:"target"`
	Code   string `json:"code"`
}

func (h *handler) login(allowed userdomain.RoleSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decode(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "identifier and password are required")
			return
		}
		res, err := h.auth.Login(r.Context(), req.Identifier, req.Password, allowed, deviceInfo(r, req.DeviceID, req.DeviceName))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		resp := toTokenResponse(res.Tokens)
		resp.User = &userResponse{ID: res.Identity.UserID, Email: res.Identity.Email, Role: string(res.Identity.Role)}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	pair, err := h.sessions.RefreshTokens(r.Context(), req.RefreshToken, deviceInfo(r, req.DeviceID, req.DeviceName))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFrom(r.Context())
	if err := h.sessions.InvalidateSession(r.Context(), p.SessionID, sessiondomain.ReasonLoggedOut); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFrom(r.Context())
	h.revokeAll(w, r, p.UserID)
}

// revokeUser ends every session of the user named in the path. Admin only.
func (h *handler) revokeUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userID is required")
		return
	}
	h.revokeAll(w, r, userID)
}

func (h *handler) revokeAll(w http.ResponseWriter, r *http.Request, userID string) {
	sessions, tokens, err := h.sessions.InvalidateAllUserSessions(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"sessionsRevoked": sessions,
		"tokensRevoked":   tokens,
	})
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFrom(r.Context())
	list, err := h.sessions.ListActiveSessions(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sessionResponse{
			ID:           s.ID,
			DeviceID:     s.DeviceID,
			DeviceName:   s.DeviceName,
			IPAddress:    s.IPAddress,
			UserAgent:    s.UserAgent,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.ID == p.SessionID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handler) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if !decode(w, r, &req) {
		return
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	p, _ := rbac.PrincipalFrom(r.Context())
	d, err := h.otp.SendWithFallback(r.Context(), p.UserID, target, isEmail(target))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, otpSendResponse{
		Channel:     string(d.Channel),
		DeliveredTo: d.DeliveredTo,
		ExpiresAt:   d.ExpiresAt,
	})
}

// sendRecoveryOTP answers the same way whether or not the account exists, is cooling
// down, or could not be reached.
func (h *handler) sendRecoveryOTP(w http.ResponseWriter, r *http.Request) {
	var req recoverySendRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}
	_, err := h.otp.SendForIdentifier(r.Context(), req.Identifier)
	switch apperr.KindOf(err) {
	case "":
		if err != nil {
			h.fail(w, r, err)
			return
		}
	case apperr.KindRateLimited, apperr.KindDeliveryFailed:
		h.logger.WarnContext(r.Context(), "recovery otp not sent", "error", err)
	default:
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": recoveryAccepted})
}

func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Target) == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "target and code are required")
		return
	}
	if err := h.otp.Verify(r.Context(), strings.TrimSpace(req.Target), strings.TrimSpace(req.Code)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// fail maps err to a status. Unclassified errors are logged and hidden.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidCredentials, apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindDeliveryFailed:
		return http.StatusBadGateway
	case apperr.KindNotImplemented:
		return http.StatusNotImplemented
	}
	switch {
	case errors.Is(err, rbac.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, rbac.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func toTokenResponse(p *sessionservice.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		SessionID:        p.SessionID,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func deviceInfo(r *http.Request, deviceID, deviceName string) *security.DeviceInfo {
	return &security.DeviceInfo{
		DeviceID:   strings.TrimSpace(deviceID),
		DeviceName: strings.TrimSpace(deviceName),
		UserAgent:  r.UserAgent(),
		IPAddress:  audit.ClientIP(r.Context()),
	}
}

func isEmail(target string) bool { return strings.Contains(target, "@") }

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
