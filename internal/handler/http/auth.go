package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/middleware"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/service"
	"github.com/windfall/pronunciation_service/pkg/response"
)

// AuthHandler serves the session store endpoints.
type AuthHandler struct {
	log         zerolog.Logger
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(log zerolog.Logger, authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		log:         log,
		authService: authService,
	}
}

// OTPRequest is the body of POST /api/auth/otp.
type OTPRequest struct {
	Phone string `json:"phone"`
}

// VerifyRequest is the body of POST /api/auth/verify.
type VerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// ActivateRequest is the body of POST /api/auth/activate.
type ActivateRequest struct {
	Code string `json:"code"`
}

// ActivateResponse reports whether the activation code was accepted.
type ActivateResponse struct {
	Activated bool `json:"activated"`
}

// MeResponse wraps the current user, which is null when logged out.
type MeResponse struct {
	User *model.User `json:"user"`
}

// SendOTP handles POST /api/auth/otp
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body.")
		return
	}

	if err := h.authService.SendOTP(r.Context(), req.Phone); err != nil {
		h.handleError(w, err)
		return
	}

	response.NoContent(w)
}

// Verify handles POST /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body.")
		return
	}

	result, err := h.authService.VerifyOTP(r.Context(), req.Phone, req.Code)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.OK(w, result)
}

// Activate handles POST /api/auth/activate for the authenticated learner.
func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body.")
		return
	}

	identifier := middleware.GetIdentifier(r.Context())
	if identifier == "" {
		h.handleError(w, errors.Unauthorized("登录已失效，请重新登录。"))
		return
	}

	ok, err := h.authService.VerifyActivationCode(r.Context(), identifier, req.Code)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.OK(w, &ActivateResponse{Activated: ok})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		response.OK(w, &MeResponse{})
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), token)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.OK(w, &MeResponse{User: user})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := middleware.BearerToken(r); ok {
		if err := h.authService.Logout(r.Context(), token); err != nil {
			h.handleError(w, err)
			return
		}
	}

	response.NoContent(w)
}

func (h *AuthHandler) handleError(w http.ResponseWriter, err error) {
	if _, ok := errors.As(err); !ok {
		h.log.Error().Err(err).Msg("Internal server error")
	}
	response.Error(w, err)
}
