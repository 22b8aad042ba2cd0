package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/domain"
)

//go:embed templates/*.txt templates/*.html
var templateFS embed.FS

// Notifier renders and sends the application's emails.
type Notifier struct {
	sender       Sender
	logger       *slog.Logger
	baseURL      string
	supportEmail string
	text         *template.Template
	html         *htmltemplate.Template
}

// Config holds the addresses that appear in emails.
type Config struct {
	BaseURL      string
	SupportEmail string
}

// NewNotifier parses the embedded templates.
func NewNotifier(sender Sender, cfg Config, logger *slog.Logger) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("nil sender")
	}
	text, err := template.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse html layout: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender:       sender,
		logger:       logger.With("component", "mail"),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		supportEmail: cfg.SupportEmail,
		text:         text,
		html:         html,
	}, nil
}

// URL builds an absolute link under the site base URL.
func (n *Notifier) URL(path string) string {
	return n.baseURL + path
}

func (n *Notifier) send(ctx context.Context, name, subject string, to []string, data map[string]any) error {
	if len(to) == 0 {
		return errors.New("no recipients")
	}
	if data == nil {
		data = map[string]any{}
	}
	data["BaseURL"] = n.baseURL
	data["SupportEmail"] = n.supportEmail

	var text bytes.Buffer
	if err := n.text.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	var html bytes.Buffer
	if err := n.html.ExecuteTemplate(&html, "layout.html", map[string]any{"Paragraphs": paragraphs(text.String())}); err != nil {
		return fmt.Errorf("render %s html: %w", name, err)
	}
	msg := Message{To: to, Subject: subject, Text: text.String(), HTML: html.String()}
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Error("email delivery failed", "template", name, "to", to, "error", err)
		return err
	}
	n.logger.Debug("email sent", "template", name, "to", to)
	return nil
}

func paragraphs(text string) []string {
	parts := strings.Split(strings.TrimSpace(text), "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2 January 2006 15:04 MST")
}

// RegistrationAdminNotice tells site admins a team is awaiting verification.
func (n *Notifier) RegistrationAdminNotice(ctx context.Context, to []string, team domain.Team, user domain.User) error {
	return n.send(ctx, "registration_admin_notice", "New CLIMB registration: "+team.Name, to,
		map[string]any{"Team": team, "User": user})
}

// TeamVerified tells team admins their team can now use the service.
func (n *Notifier) TeamVerified(ctx context.Context, team domain.Team, admins []domain.User) error {
	var errs []error
	for _, admin := range admins {
		err := n.send(ctx, "team_verified", "Your CLIMB team has been verified", []string{admin.Email},
			map[string]any{"Team": team, "User": admin})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Invitation sends an invitation link to the invitee.
func (n *Notifier) Invitation(ctx context.Context, inv domain.Invitation, team domain.Team, inviter domain.User) error {
	link := n.URL("/invitations/" + inv.UUID + "/accept")
	return n.send(ctx, "invitation", "Invitation to join "+team.Name+" on CLIMB", []string{inv.Email},
		map[string]any{"Invitation": inv, "Team": team, "Inviter": inviter, "Link": link})
}

// ValidateEmail sends the address confirmation link.
func (n *Notifier) ValidateEmail(ctx context.Context, user domain.User, token string) error {
	return n.send(ctx, "validate_email", "Confirm your CLIMB email address", []string{user.Email},
		map[string]any{"User": user, "Link": n.URL("/validate-email/" + token)})
}

// EmailChange sends a verification link to the new address and a notice to the old one.
func (n *Notifier) EmailChange(ctx context.Context, user domain.User, newEmail, token string) error {
	if err := n.send(ctx, "email_change_verify", "Confirm your new CLIMB email address", []string{newEmail},
		map[string]any{"User": user, "Link": n.URL("/validate-email-change/" + token)}); err != nil {
		return err
	}
	return n.send(ctx, "email_change_notice", "CLIMB email address change requested", []string{user.Email},
		map[string]any{"User": user, "NewEmail": newEmail})
}

// PasswordReset sends a single-use password reset link.
func (n *Notifier) PasswordReset(ctx context.Context, user domain.User, token string) error {
	return n.send(ctx, "password_reset", "Reset your CLIMB password", []string{user.Email},
		map[string]any{"User": user, "Link": n.URL("/password-reset/" + token)})
}

// LeaseReminder warns the lease holder that a server lease is running out.
func (n *Notifier) LeaseReminder(ctx context.Context, a domain.LeaseAssignment, daysRemaining int) error {
	expiry := ""
	if a.Lease.Expiry != nil {
		expiry = formatDate(*a.Lease.Expiry)
	}
	subject := fmt.Sprintf("Server lease for %s expires in %d day(s)", a.Lease.ServerName, daysRemaining)
	return n.send(ctx, "lease_reminder", subject, []string{a.Assignee.Email},
		map[string]any{"Assignment": a, "DaysRemaining": daysRemaining, "Expiry": expiry})
}

// LeaseExtensionRequest forwards a member's extension request to support.
func (n *Notifier) LeaseExtensionRequest(ctx context.Context, lease domain.ServerLease, team domain.Team, requester domain.User, message string) error {
	expiry := "none"
	if lease.Expiry != nil {
		expiry = formatDate(*lease.Expiry)
	}
	return n.send(ctx, "lease_extension_request", "Lease extension request: "+lease.ServerName, []string{n.supportEmail},
		map[string]any{"Lease": lease, "Team": team, "Requester": requester, "Message": message, "Expiry": expiry})
}

// LicenceReminder warns team admins that the team licence is about to lapse.
func (n *Notifier) LicenceReminder(ctx context.Context, team domain.Team, admins []domain.User) error {
	var errs []error
	for _, admin := range admins {
		err := n.send(ctx, "licence_reminder", "CLIMB licence renewal for "+team.Name, []string{admin.Email},
			map[string]any{"Team": team, "User": admin, "Expiry": formatDate(team.LicenceExpiry)})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
