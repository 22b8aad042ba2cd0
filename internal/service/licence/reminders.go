package licence

import (
	"context"
	"time"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// ReminderMailer delivers licence renewal reminders.
type ReminderMailer interface {
	LicenceReminder(ctx context.Context, team domain.Team, admins []domain.User) error
}

// Reminders warns team admins before their licence lapses.
type Reminders struct {
	teams  repository.TeamRepository
	mailer ReminderMailer
	logger *slog.Logger
	window time.Duration
	now    func() time.Time
}

// NewReminders builds a sender for teams whose licence expires within days.
func NewReminders(teams repository.TeamRepository, mailer ReminderMailer, logger *slog.Logger, days int) Reminders {
	if days <= 0 {
		days = 14
	}
	return Reminders{
		teams:  teams,
		mailer: mailer,
		logger: logger,
		window: time.Duration(days) * 24 * time.Hour,
		now:    time.Now,
	}
}

// Send emails the admins of each expiring team at most once per 24 hours and
// returns the number of teams reminded. Lapsed licences are not reminded.
func (r Reminders) Send(ctx context.Context) (int, error) {
	now := r.now().UTC()
	teams, err := r.teams.ListTeamsWithLicenceExpiringBefore(ctx, now.Add(r.window))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, team := range teams {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !team.LicenceExpiry.After(now) {
			continue
		}
		if last := team.LicenceLastReminderSentAt; last != nil && now.Sub(*last) < 24*time.Hour {
			continue
		}
		admins, err := r.teams.ListTeamAdmins(ctx, team.ID)
		if err != nil {
			r.logger.Warn("list team admins failed", "team_id", team.ID, "error", err)
			continue
		}
		if err := r.mailer.LicenceReminder(ctx, team, admins); err != nil {
			r.logger.Error("licence reminder failed", "team_id", team.ID, "error", err)
			continue
		}
		if err := r.teams.MarkLicenceReminderSent(ctx, team.ID, now); err != nil {
			r.logger.Warn("mark licence reminder failed", "team_id", team.ID, "error", err)
		}
		sent++
	}
	return sent, nil
}
