package domain

import "time"

// TwoFactorMethod enumerates supported second-factor methods.
type TwoFactorMethod string

const (
	TwoFactorMethodTOTP   TwoFactorMethod = "totp"
	TwoFactorMethodSMS    TwoFactorMethod = "sms"
	TwoFactorMethodEmail  TwoFactorMethod = "email"
	TwoFactorMethodBackup TwoFactorMethod = "backup_codes"
)

// TwoFactorEnrollment is one (principal, method) row of the second-factor
// state machine: unenrolled -> pending-verification -> verified-active,
// with a terminal disabled state reachable from verified-active.
type TwoFactorEnrollment struct {
	ID          string
	PrincipalID string
	Method      TwoFactorMethod
	Secret      string
	BackupCodes []string
	Verified    bool
	Active      bool
	Primary     bool
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	VerifiedAt  *time.Time
}

// IsPending reports whether the enrollment awaits its first verification.
func (e TwoFactorEnrollment) IsPending() bool {
	return !e.Verified
}

// Usable reports whether the method may satisfy a login challenge.
func (e TwoFactorEnrollment) Usable() bool {
	return e.Verified && e.Active
}

// ConsumeBackupCode removes the supplied code from the unused set.
// Returns false when the code is not present; consumed codes never return.
func (e *TwoFactorEnrollment) ConsumeBackupCode(code string) bool {
	for i, candidate := range e.BackupCodes {
		if candidate == code {
			e.BackupCodes = append(e.BackupCodes[:i], e.BackupCodes[i+1:]...)
			return true
		}
	}
	return false
}
