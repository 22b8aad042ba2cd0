package domain

import "time"

// ServerLease is a time-boxed claim on a provisioned server.
type ServerLease struct {
	ID                   int64      `json:"id"`
	ServerID             string     `json:"server_id"`
	ServerName           string     `json:"server_name"`
	TenantID             int64      `json:"tenant_id"`
	AssignedTeamMemberID int64      `json:"assigned_teammember_id"`
	CreatedAt            time.Time  `json:"created_at"`
	LastRenewedAt        time.Time  `json:"last_renewed_at"`
	Expiry               *time.Time `json:"expiry"`
	RenewalCount         int        `json:"renewal_count"`
	LastReminderSentAt   *time.Time `json:"last_reminder_sent_at"`
}

// DefaultLeaseExpiry returns the expiry for a lease created or renewed at now.
func DefaultLeaseExpiry(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, days)
}

// TimeRemaining is the duration until expiry. Leases without an expiry never lapse.
func (l ServerLease) TimeRemaining(now time.Time) (time.Duration, bool) {
	if l.Expiry == nil {
		return 0, false
	}
	return l.Expiry.Sub(now), true
}

// DaysRemaining is the whole number of days left, rounded down.
func (l ServerLease) DaysRemaining(now time.Time) (int, bool) {
	remaining, ok := l.TimeRemaining(now)
	if !ok {
		return 0, false
	}
	days := int(remaining / (24 * time.Hour))
	if remaining < 0 && remaining%(24*time.Hour) != 0 {
		days--
	}
	return days, true
}

// IsActiveDue reports whether the lease has an expiry that has not yet passed.
func (l ServerLease) IsActiveDue(now time.Time) bool {
	return l.Expiry != nil && l.Expiry.After(now)
}

// Renew pushes the expiry out by days from now.
func (l *ServerLease) Renew(now time.Time, days int) {
	expiry := DefaultLeaseExpiry(now, days)
	l.Expiry = &expiry
	l.LastRenewedAt = now
	l.RenewalCount++
}

// ReminderDue reports whether a reminder may be sent now given the reminder
// day schedule. At most one reminder goes out per 24 hours.
func (l ServerLease) ReminderDue(now time.Time, reminderDays []int) bool {
	if !l.IsActiveDue(now) {
		return false
	}
	days, _ := l.DaysRemaining(now)
	scheduled := false
	for _, d := range reminderDays {
		if d == days {
			scheduled = true
			break
		}
	}
	if !scheduled {
		return false
	}
	if l.LastReminderSentAt != nil && now.Sub(*l.LastReminderSentAt) < 24*time.Hour {
		return false
	}
	return true
}

// LeaseAssignment is a lease joined with the context needed to notify its holder.
type LeaseAssignment struct {
	Lease      ServerLease `json:"lease"`
	TeamID     int64       `json:"team_id"`
	TeamName   string      `json:"team_name"`
	RegionName string      `json:"region"`
	Assignee   User        `json:"assignee"`
}
