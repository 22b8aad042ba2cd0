package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTenantNaming(t *testing.T) {
	team := Team{ID: 12, Name: "pathogen-lab"}
	if got := team.TenantName(); got != "bryn:12_pathogen-lab" {
		t.Fatalf("unexpected tenant name %q", got)
	}
	if got := team.TenantDescription("Loman"); got != "pathogen-lab (Loman)" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestLicenceAcceptanceExpiry(t *testing.T) {
	accepted := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	acc := LicenceAcceptance{AcceptedAt: accepted, Version: LicenceVersion{ValidityPeriodDays: 30}}
	if want := accepted.AddDate(0, 0, 30); !acc.Expiry().Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, acc.Expiry())
	}
	if acc.HasExpired(accepted.AddDate(0, 0, 29)) {
		t.Fatalf("acceptance should still be valid")
	}
	if !acc.HasExpired(accepted.AddDate(0, 0, 31)) {
		t.Fatalf("acceptance should have expired")
	}
	acc.Version.ValidityPeriodDays = 0
	if want := accepted.AddDate(0, 0, DefaultLicenceValidityDays); !acc.Expiry().Equal(want) {
		t.Fatalf("expected default validity, got %s", acc.Expiry())
	}
}

func TestLeaseReminderDue(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(3*24*time.Hour + time.Hour)
	lease := ServerLease{Expiry: &expiry}
	days := []int{7, 3, 1, 0}

	if d, _ := lease.DaysRemaining(now); d != 3 {
		t.Fatalf("expected 3 days remaining, got %d", d)
	}
	if !lease.ReminderDue(now, days) {
		t.Fatalf("expected reminder due on day 3")
	}

	recent := now.Add(-2 * time.Hour)
	lease.LastReminderSentAt = &recent
	if lease.ReminderDue(now, days) {
		t.Fatalf("reminder within 24h must be suppressed")
	}

	older := now.Add(-25 * time.Hour)
	lease.LastReminderSentAt = &older
	if !lease.ReminderDue(now, days) {
		t.Fatalf("reminder after 24h should be sent")
	}

	fourDays := now.Add(4*24*time.Hour + time.Hour)
	lease = ServerLease{Expiry: &fourDays}
	if lease.ReminderDue(now, days) {
		t.Fatalf("day 4 is not a reminder day")
	}

	past := now.Add(-time.Hour)
	lease = ServerLease{Expiry: &past}
	if lease.ReminderDue(now, days) {
		t.Fatalf("expired lease must not be reminded")
	}
	if (ServerLease{}).ReminderDue(now, days) {
		t.Fatalf("lease without expiry must not be reminded")
	}
}

func TestLeaseRenew(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	lease := ServerLease{}
	lease.Renew(now, 14)
	if lease.RenewalCount != 1 || !lease.LastRenewedAt.Equal(now) {
		t.Fatalf("unexpected renewal state: %+v", lease)
	}
	if lease.Expiry == nil || !lease.Expiry.Equal(now.AddDate(0, 0, 14)) {
		t.Fatalf("unexpected expiry %v", lease.Expiry)
	}
}

func TestConfirmEmailChangeFollowsUsername(t *testing.T) {
	next := "new@example.ac.uk"
	u := User{Username: "old@example.ac.uk", Email: "old@example.ac.uk", NewEmailPendingVerification: &next}
	if !u.ConfirmEmailChange() {
		t.Fatalf("expected change to apply")
	}
	if u.Email != next || u.Username != next || u.NewEmailPendingVerification != nil {
		t.Fatalf("unexpected user after change: %+v", u)
	}

	other := "x@example.ac.uk"
	u = User{Username: "nick", Email: "old@example.ac.uk", NewEmailPendingVerification: &other}
	u.ConfirmEmailChange()
	if u.Username != "nick" || u.Email != other {
		t.Fatalf("username should stay when it differs from email: %+v", u)
	}
	if u.ConfirmEmailChange() {
		t.Fatalf("no pending change should report false")
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	got, err := NormalizePhoneNumber("024 7652 3523", "GB")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "+442476523523" {
		t.Fatalf("expected E.164 number, got %q", got)
	}
	if _, err := NormalizePhoneNumber("12", "GB"); err == nil {
		t.Fatalf("expected invalid number error")
	}
}

func TestValidationErrorMatchesInvalidInput(t *testing.T) {
	v := NewValidationError()
	if v.Err() != nil {
		t.Fatalf("empty collector should not be an error")
	}
	v.Add("email", "required")
	v.Add("email", "ignored")
	err := v.Err()
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input kind, got %v", err)
	}
	if err.Error() != "email: required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCheckPassword(t *testing.T) {
	cases := map[string]bool{"short": false, "12345678": false, "correct horse": true}
	for pw, ok := range cases {
		if got := CheckPassword(pw) == ""; got != ok {
			t.Fatalf("CheckPassword(%q) ok=%v, want %v", pw, got, ok)
		}
	}
}
