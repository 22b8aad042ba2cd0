package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/service/invitation"
	"github.com/MRC-CLIMB/bryn/internal/service/registration"
)

func (s *Server) sessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) expireCookie() *http.Cookie {
	c := s.sessionCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	return c
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "login", map[string]any{
		"Title":    "Sign in",
		"Flash":    flashFromRequest(r),
		"Username": "",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload", err)
		return
	}
	login := r.PostFormValue("username")
	_, session, err := s.auth.Login(r.Context(), login, r.PostFormValue("password"))
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, domain.ErrUnauthorized) {
			s.logger.Error("login failed", "error", err)
			status = http.StatusInternalServerError
		}
		s.renderStatus(w, r, status, "login", map[string]any{
			"Title":    "Sign in",
			"Flash":    errorMessage(err),
			"Username": login,
		})
		return
	}
	http.SetCookie(w, s.sessionCookie(session.Token, session.ExpiresAt))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.expireCookie())
	redirectWithFlash(w, r, "/login", "Signed out")
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "register", map[string]any{
		"Title": "Register",
		"Form":  registration.Request{},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload", err)
		return
	}
	form := registration.Request{
		FirstName:         r.PostFormValue("first_name"),
		LastName:          r.PostFormValue("last_name"),
		Email:             r.PostFormValue("email"),
		Password:          r.PostFormValue("password"),
		ConfirmPassword:   r.PostFormValue("confirm_password"),
		TeamName:          r.PostFormValue("team_name"),
		Position:          r.PostFormValue("position"),
		Department:        r.PostFormValue("department"),
		Institution:       r.PostFormValue("institution"),
		PhoneNumber:       r.PostFormValue("phone_number"),
		ResearchInterests: r.PostFormValue("research_interests"),
		IntendedClimbUse:  r.PostFormValue("intended_climb_use"),
		HeldMRCGrants:     r.PostFormValue("held_mrc_grants"),
		AcceptedTerms:     r.PostFormValue("accepted_terms") != "",
	}
	if _, err := s.registration.Register(r.Context(), form); err != nil {
		if errs := fieldErrors(err); errs != nil {
			form.Password, form.ConfirmPassword = "", ""
			s.renderStatus(w, r, http.StatusBadRequest, "register", map[string]any{
				"Title":  "Register",
				"Form":   form,
				"Errors": errs,
			})
			return
		}
		s.renderError(w, r, http.StatusInternalServerError, "registration failed", err)
		return
	}
	s.renderMessage(w, r, http.StatusOK, "Registration received",
		"Check your inbox for a link to validate your email address. Your team will be reviewed before it can use the cloud.")
}

func (s *Server) handleValidateEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := s.registration.ValidateEmail(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.renderMessage(w, r, http.StatusBadRequest, "Validation failed", errorMessage(err))
		return
	}
	redirectWithFlash(w, r, "/login", "Email address validated. You can now sign in.")
}

func (s *Server) handleValidateEmailChange(w http.ResponseWriter, r *http.Request) {
	if _, err := s.users.ConfirmEmailChange(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.renderMessage(w, r, http.StatusBadRequest, "Validation failed", errorMessage(err))
		return
	}
	redirectWithFlash(w, r, "/login", "Email address updated.")
}

func (s *Server) handleInvitationForm(w http.ResponseWriter, r *http.Request) {
	inv, t, err := s.invitations.Pending(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.renderMessage(w, r, http.StatusNotFound, "Invitation unavailable", errorMessage(err))
		return
	}
	s.render(w, r, "invitation", map[string]any{
		"Title":      "Join " + t.Name,
		"Invitation": inv,
		"Team":       t,
		"Form":       invitation.AcceptRequest{},
		"User":       s.optionalUser(r),
	})
}

func (s *Server) handleInvitationAccept(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload", err)
		return
	}
	id := chi.URLParam(r, "uuid")
	if r.PostFormValue("join") != "" {
		s.joinWithInvitation(w, r, id)
		return
	}
	form := invitation.AcceptRequest{
		FirstName:       r.PostFormValue("first_name"),
		LastName:        r.PostFormValue("last_name"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	if _, err := s.invitations.Accept(r.Context(), id, form); err != nil {
		if errs := fieldErrors(err); errs != nil {
			inv, t, perr := s.invitations.Pending(r.Context(), id)
			if perr != nil {
				s.renderMessage(w, r, http.StatusNotFound, "Invitation unavailable", errorMessage(perr))
				return
			}
			form.Password, form.ConfirmPassword = "", ""
			s.renderStatus(w, r, http.StatusBadRequest, "invitation", map[string]any{
				"Title":      "Join " + t.Name,
				"Invitation": inv,
				"Team":       t,
				"Form":       form,
				"Errors":     errs,
				"User":       s.optionalUser(r),
			})
			return
		}
		s.renderMessage(w, r, statusFor(err), "Invitation unavailable", errorMessage(err))
		return
	}
	redirectWithFlash(w, r, "/login", "Welcome aboard. Sign in with your email address.")
}

// joinWithInvitation adds the signed-in user to the invited team.
func (s *Server) joinWithInvitation(w http.ResponseWriter, r *http.Request, id string) {
	u := s.optionalUser(r)
	if u == nil {
		redirectWithFlash(w, r, "/login", "Sign in to accept the invitation, then open the link again.")
		return
	}
	_, t, err := s.invitations.Pending(r.Context(), id)
	if err != nil {
		s.renderMessage(w, r, statusFor(err), "Invitation unavailable", errorMessage(err))
		return
	}
	if _, err := s.invitations.AcceptAsUser(r.Context(), id, *u); err != nil {
		s.renderMessage(w, r, statusFor(err), "Invitation unavailable", errorMessage(err))
		return
	}
	redirectWithFlash(w, r, "/", "You are now a member of "+t.Name+".")
}

func (s *Server) handlePasswordResetForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "password_reset", map[string]any{"Title": "Reset password"})
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload", err)
		return
	}
	if err := s.auth.RequestPasswordReset(r.Context(), r.PostFormValue("email")); err != nil {
		s.logger.Error("password reset request failed", "error", err)
	}
	s.renderMessage(w, r, http.StatusOK, "Check your inbox",
		"If the address belongs to an account, a reset link is on its way.")
}

func (s *Server) handlePasswordResetConfirmForm(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := s.auth.CheckResetToken(r.Context(), token); err != nil {
		s.renderMessage(w, r, http.StatusBadRequest, "Reset link invalid", errorMessage(err))
		return
	}
	s.render(w, r, "password_reset_confirm", map[string]any{
		"Title": "Choose a new password",
		"Token": token,
	})
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload", err)
		return
	}
	token := chi.URLParam(r, "token")
	err := s.auth.ResetPassword(r.Context(), token, r.PostFormValue("password"), r.PostFormValue("confirm_password"))
	if err != nil {
		if errs := fieldErrors(err); errs != nil {
			s.renderStatus(w, r, http.StatusBadRequest, "password_reset_confirm", map[string]any{
				"Title":  "Choose a new password",
				"Token":  token,
				"Errors": errs,
			})
			return
		}
		s.renderMessage(w, r, statusFor(err), "Reset failed", errorMessage(err))
		return
	}
	redirectWithFlash(w, r, "/login", "Password updated. You can now sign in.")
}

func (s *Server) handleInstitutionTypeahead(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	institutions, err := s.registration.InstitutionTypeahead(r.Context(), q)
	if err != nil {
		s.logger.Error("institution typeahead failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	names := make([]string, 0, len(institutions))
	for _, inst := range institutions {
		names = append(names, inst.Name)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(names)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAllowed), errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns text safe to show on a page.
func errorMessage(err error) string {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return derr.Msg
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return "Something went wrong. Please try again later."
}
