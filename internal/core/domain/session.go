package domain

import "time"

// Session represents one authenticated device or browser binding for a principal.
type Session struct {
	ID                string
	PrincipalID       string
	Token             string
	RefreshToken      string
	IP                *string
	UserAgent         *string
	DeviceType        string
	Browser           string
	OS                string
	Active            bool
	Suspicious        bool
	RiskScore         int
	RequiresTwoFactor bool
	TwoFactorPassed   bool
	CreatedAt         time.Time
	LastActivity      time.Time
	ExpiresAt         time.Time
	RefreshExpiresAt  time.Time
	TerminatedAt      *time.Time
	TerminationReason *string
}

// IsValid reports whether the session is usable at the supplied moment.
// Expired-but-not-yet-swept sessions fail this check on read.
func (s Session) IsValid(at time.Time) bool {
	if !s.Active {
		return false
	}
	return s.ExpiresAt.After(at)
}

// Terminate marks the session inactive with the supplied reason.
// The active flag is monotonic: terminating an already-terminated session is
// a no-op and the first reason wins. Returns true when state changed.
func (s *Session) Terminate(at time.Time, reason string) bool {
	if !s.Active {
		return false
	}
	s.Active = false
	s.TerminatedAt = &at
	s.TerminationReason = &reason
	return true
}

// Touch updates last-activity metadata for the session.
func (s *Session) Touch(at time.Time) {
	s.LastActivity = at
}

// FingerprintChanged reports whether the supplied origin differs from the one
// recorded at creation. Advisory only; the caller decides what to do with it.
func (s Session) FingerprintChanged(ip, userAgent string) bool {
	if s.IP != nil && *s.IP != ip {
		return true
	}
	if s.UserAgent != nil && *s.UserAgent != userAgent {
		return true
	}
	return false
}
