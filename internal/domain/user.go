package domain

import (
	"strings"
	"time"
)

// User represents a platform account.
type User struct {
	ID                          int64      `json:"id"`
	Username                    string     `json:"username"`
	Email                       string     `json:"email"`
	FirstName                   string     `json:"first_name"`
	LastName                    string     `json:"last_name"`
	PasswordHash                []byte     `json:"-"`
	IsActive                    bool       `json:"is_active"`
	IsStaff                     bool       `json:"is_staff"`
	IsSuperuser                 bool       `json:"is_superuser"`
	EmailValidated              bool       `json:"email_validated"`
	NewEmailPendingVerification *string    `json:"new_email_pending_verification"`
	DefaultKeyPairID            *int64     `json:"default_keypair_id"`
	LastLogin                   *time.Time `json:"last_login"`
	CreatedAt                   time.Time  `json:"created_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// MarkEmailValidated activates an account whose email address has been confirmed.
func (u *User) MarkEmailValidated() {
	u.EmailValidated = true
	u.IsActive = true
}

// ConfirmEmailChange swaps in the pending email. The username follows the
// email when the two were the same.
func (u *User) ConfirmEmailChange() bool {
	if u.NewEmailPendingVerification == nil {
		return false
	}
	next := *u.NewEmailPendingVerification
	if strings.EqualFold(u.Username, u.Email) {
		u.Username = next
	}
	u.Email = next
	u.NewEmailPendingVerification = nil
	return true
}
