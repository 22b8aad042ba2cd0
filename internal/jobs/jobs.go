package jobs

import (
	"context"
	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/service/stats"
	"github.com/MRC-CLIMB/bryn/pkg/config"
)

// Job names.
const (
	HypervisorStats  = "hypervisor-stats"
	LeaseReminders   = "lease-reminders"
	LicenceReminders = "licence-reminders"
)

// StatsRefresher refreshes hypervisor capacity.
type StatsRefresher interface {
	Refresh(ctx context.Context) (stats.RefreshResult, error)
}

// LeaseReminder sends server lease reminders.
type LeaseReminder interface {
	SendReminders(ctx context.Context) (int, error)
}

// LicenceReminder sends licence renewal reminders.
type LicenceReminder interface {
	Send(ctx context.Context) (int, error)
}

// Standard returns the periodic jobs of the API process.
func Standard(cfg config.APIConfig, refresher StatsRefresher, leases LeaseReminder, licences LicenceReminder, logger *slog.Logger) []Job {
	return []Job{
		{
			Name: HypervisorStats,
			Spec: cfg.HypervisorStatsCron,
			Run: func(ctx context.Context) error {
				res, err := refresher.Refresh(ctx)
				if err != nil {
					return err
				}
				logger.Info("hypervisor stats refreshed", "updated", len(res.Updated), "skipped", len(res.Skipped), "failed", len(res.Failed))
				return nil
			},
		},
		{
			Name: LeaseReminders,
			Spec: cfg.LeaseReminderCron,
			Run: func(ctx context.Context) error {
				sent, err := leases.SendReminders(ctx)
				if sent > 0 {
					logger.Info("lease reminders sent", "count", sent)
				}
				return err
			},
		},
		{
			Name: LicenceReminders,
			Spec: cfg.LicenceReminderCron,
			Run: func(ctx context.Context) error {
				sent, err := licences.Send(ctx)
				if sent > 0 {
					logger.Info("licence reminders sent", "count", sent)
				}
				return err
			},
		},
	}
}
