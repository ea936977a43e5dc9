package domain

import (
	"strings"
	"time"
)

// Principal mirrors the persisted representation in the principals table.
// The external provider id stays nil until the record is linked to the
// directory, either by a provider-originated sync or a local push.
type Principal struct {
	ID            string
	ExternalID    *string
	Username      string
	Email         string
	PasswordHash  string
	PasswordAlgo  string
	Locked        bool
	LockReason    *string
	LockExpiresAt *time.Time
	FailedLogins  int
	TwoFactor     bool
	Roles         []Role
	Deleted       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLogin     *time.Time
}

// Role is a named grant attached to a principal through the join table.
type Role struct {
	ID   string
	Name string
}

// HasRole reports whether the principal carries the named role.
func (p Principal) HasRole(name string) bool {
	for _, role := range p.Roles {
		if strings.EqualFold(role.Name, name) {
			return true
		}
	}
	return false
}

// IsLinked reports whether the principal is bound to an external directory record.
func (p Principal) IsLinked() bool {
	return p.ExternalID != nil && strings.TrimSpace(*p.ExternalID) != ""
}

// LockExpired reports whether a timed lock has elapsed at the supplied moment.
// Indefinite locks (no expiry) never expire and require an explicit unlock.
func (p Principal) LockExpired(at time.Time) bool {
	if !p.Locked || p.LockExpiresAt == nil {
		return false
	}
	return p.LockExpiresAt.Before(at)
}

// Lock applies a lock with the supplied reason. A nil expiry makes the lock
// indefinite, which the background sweep never clears.
func (p *Principal) Lock(reason string, expiresAt *time.Time) {
	p.Locked = true
	p.LockReason = &reason
	p.LockExpiresAt = expiresAt
}

// Unlock clears all lock state and resets the failed-login counter.
func (p *Principal) Unlock() {
	p.Locked = false
	p.LockReason = nil
	p.LockExpiresAt = nil
	p.FailedLogins = 0
}
