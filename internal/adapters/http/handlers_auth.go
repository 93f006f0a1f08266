package http

import (
	"errors"
	"net/http"

	"github.com/akibul079/demo-sop-hub/internal/application"
	"github.com/akibul079/demo-sop-hub/internal/domain"
)

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, "register", &req) {
		return
	}
	res, err := h.service.Register(r.Context(), application.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "register", err)
		return
	}
	writeSuccess(w, http.StatusCreated, registerResponse{
		UserID: res.UserID,
		Email:  res.Email,
		Status: res.Status,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeAndValidate(w, r, "login", &req) {
		return
	}
	res, err := h.service.Login(r.Context(), application.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "login", err)
		return
	}
	writeSuccess(w, http.StatusOK, toTokenResponse(res))
}

func (h *Handler) googleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !h.decodeAndValidate(w, r, "google_login", &req) {
		return
	}
	res, err := h.service.GoogleLogin(r.Context(), req.Token)
	if err != nil {
		writeMappedError(r.Context(), w, "google_login", err)
		return
	}
	status := http.StatusOK
	if res.IsNewUser {
		status = http.StatusCreated
	}
	writeSuccess(w, status, toTokenResponse(res))
}

func (h *Handler) reissueToken(w http.ResponseWriter, r *http.Request) {
	token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeMissingBearerError(r.Context(), w, "reissue_token")
		return
	}
	res, err := h.service.ReissueToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			err = domain.ErrUnauthorized
		}
		writeMappedError(r.Context(), w, "reissue_token", err)
		return
	}
	writeSuccess(w, http.StatusOK, toTokenResponse(res))
}

// logout is acknowledged only; session tokens are stateless and the client
// discards its copy.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusOK, "logged out")
}
