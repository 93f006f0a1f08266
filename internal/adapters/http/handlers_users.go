package http

import (
	"net/http"

	"github.com/akibul079/demo-sop-hub/internal/application"
	"github.com/akibul079/demo-sop-hub/internal/domain"
)

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeMappedError(r.Context(), w, "get_me", domain.ErrUnauthorized)
		return
	}
	writeSuccess(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeMappedError(r.Context(), w, "change_password", domain.ErrUnauthorized)
		return
	}
	var req changePasswordRequest
	if !h.decodeAndValidate(w, r, "change_password", &req) {
		return
	}
	err := h.service.ChangePassword(r.Context(), user.UserID, application.ChangePasswordRequest{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "change_password", err)
		return
	}
	writeMessage(w, http.StatusOK, "password updated")
}
