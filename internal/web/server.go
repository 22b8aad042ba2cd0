// Package web serves the server-rendered account pages.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/service/auth"
	"github.com/MRC-CLIMB/bryn/internal/service/invitation"
	"github.com/MRC-CLIMB/bryn/internal/service/registration"
	"github.com/MRC-CLIMB/bryn/internal/service/team"
	"github.com/MRC-CLIMB/bryn/internal/service/user"
)

//go:embed templates/*.html
var templateFS embed.FS

const requestTimeout = 10 * time.Second

// Deps groups the services behind the pages.
type Deps struct {
	Logger       *slog.Logger
	Auth         auth.Service
	Registration registration.Service
	Invitations  invitation.Service
	Users        user.Service
	Teams        team.Service
	CookieName   string
	CookieSecure bool
	SupportEmail string
}

// Server hosts the web pages.
type Server struct {
	auth         auth.Service
	registration registration.Service
	invitations  invitation.Service
	users        user.Service
	teams        team.Service
	templates    *template.Template
	mux          chi.Router
	logger       *slog.Logger
	cookieName   string
	cookieSecure bool
	supportEmail string
}

// New constructs a server ready to serve HTTP traffic.
func New(d Deps) (*Server, error) {
	tmplFS, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	templates, err := template.New("base").Funcs(template.FuncMap{
		"fieldError": fieldError,
	}).ParseFS(tmplFS, "*.html")
	if err != nil {
		return nil, err
	}
	srv := &Server{
		auth:         d.Auth,
		registration: d.Registration,
		invitations:  d.Invitations,
		users:        d.Users,
		teams:        d.Teams,
		templates:    templates,
		logger:       d.Logger,
		cookieName:   d.CookieName,
		cookieSecure: d.CookieSecure,
		supportEmail: d.SupportEmail,
	}
	if srv.cookieName == "" {
		srv.cookieName = "bryn_session"
	}
	srv.registerRoutes()
	return srv, nil
}

// ServeHTTP conforms to http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	mux := chi.NewRouter()
	mux.Get("/", s.requireAuth(s.handleHome))
	mux.Get("/login", s.handleLoginForm)
	mux.Post("/login", s.handleLogin)
	mux.Post("/logout", s.handleLogout)
	mux.Get("/register", s.handleRegisterForm)
	mux.Post("/register", s.handleRegister)
	mux.Get("/validate-email/{token}", s.handleValidateEmail)
	mux.Get("/validate-email-change/{token}", s.handleValidateEmailChange)
	mux.Get("/invitations/{uuid}/accept", s.handleInvitationForm)
	mux.Post("/invitations/{uuid}/accept", s.handleInvitationAccept)
	mux.Get("/password-reset", s.handlePasswordResetForm)
	mux.Post("/password-reset", s.handlePasswordReset)
	mux.Get("/password-reset/{token}", s.handlePasswordResetConfirmForm)
	mux.Post("/password-reset/{token}", s.handlePasswordResetConfirm)
	mux.Get("/institutions/typeahead", s.handleInstitutionTypeahead)
	mux.Get("/active-users", s.requireAuth(s.handleActiveUsers))
	s.mux = mux
}

type contextKey string

const contextKeyUser contextKey = "bryn-web-user"

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.cookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		u, _, err := s.auth.Authorize(r.Context(), cookie.Value)
		if err != nil {
			s.logger.Warn("session validation failed", "error", err)
			http.SetCookie(w, s.expireCookie())
			redirectWithFlash(w, r, "/login", "Please sign in")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKeyUser, u)))
	}
}

// optionalUser returns the signed-in user on pages that work without a session.
func (s *Server) optionalUser(r *http.Request) *domain.User {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return nil
	}
	u, _, err := s.auth.Authorize(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return u
}

func currentUser(r *http.Request) *domain.User {
	u, _ := r.Context().Value(contextKeyUser).(*domain.User)
	return u
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	teams, err := s.teams.ListForUser(ctx, u.ID)
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, "failed to load teams", err)
		return
	}
	s.render(w, r, "home", map[string]any{
		"Title": "Dashboard",
		"Flash": flashFromRequest(r),
		"User":  u,
		"Teams": teams,
	})
}

func (s *Server) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.users.ActiveUsers(r.Context(), *currentUser(r))
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		s.renderError(w, r, http.StatusInternalServerError, "failed to list users", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	lines := make([]string, 0, len(contacts))
	for _, c := range contacts {
		lines = append(lines, strings.Join([]string{c.FirstName, c.LastName, c.Email, c.Institution, c.TeamName}, "\t"))
	}
	_, _ = io.WriteString(w, strings.Join(lines, "\n"))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, tpl string, data map[string]any) {
	s.renderStatus(w, r, http.StatusOK, tpl, data)
}

func (s *Server) renderStatus(w http.ResponseWriter, _ *http.Request, status int, tpl string, data map[string]any) {
	if _, ok := data["SupportEmail"]; !ok {
		data["SupportEmail"] = s.supportEmail
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, tpl, data); err != nil {
		s.logger.Error("template render failed", "template", tpl, "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	s.logger.Warn("page error", "status", status, "message", message, "error", err, "path", r.URL.Path)
	http.Error(w, message, status)
}

// renderMessage shows a one-paragraph outcome page.
func (s *Server) renderMessage(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	s.renderStatus(w, r, status, "message", map[string]any{
		"Title":   title,
		"Message": message,
	})
}

func fieldErrors(err error) map[string]string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

func fieldError(errs any, field string) string {
	m, _ := errs.(map[string]string)
	return m[field]
}

func flashFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("flash"))
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, target, message string) {
	if strings.TrimSpace(target) == "" {
		target = "/"
	}
	if strings.TrimSpace(message) == "" {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	u, err := url.Parse(target)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	q := u.Query()
	q.Set("flash", message)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}
