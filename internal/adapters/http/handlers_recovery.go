package http

import (
	"net/http"
)

const forgotPasswordMessage = "if an account exists for this email, a reset link has been sent"

func (h *Handler) emailVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !h.decodeAndValidate(w, r, "email_verify", &req) {
		return
	}
	if err := h.service.VerifyEmail(r.Context(), req.Email, req.Token); err != nil {
		writeMappedError(r.Context(), w, "email_verify", err)
		return
	}
	writeMessage(w, http.StatusOK, "email verified")
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decodeAndValidate(w, r, "resend_verification", &req) {
		return
	}
	if err := h.service.RequestVerification(r.Context(), req.Email); err != nil {
		writeMappedError(r.Context(), w, "resend_verification", err)
		return
	}
	writeMessage(w, http.StatusOK, "verification email sent")
}

// forgotPassword answers identically whether or not the account exists.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decodeAndValidate(w, r, "forgot_password", &req) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeMappedError(r.Context(), w, "forgot_password", err)
		return
	}
	writeMessage(w, http.StatusOK, forgotPasswordMessage)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decodeAndValidate(w, r, "reset_password", &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		writeMappedError(r.Context(), w, "reset_password", err)
		return
	}
	writeMessage(w, http.StatusOK, "password has been reset")
}
