package domain

import "time"

// PrincipalRegisteredEvent represents the payload for account.principal.registered messages.
type PrincipalRegisteredEvent struct {
	EventID      string
	PrincipalID  string
	Username     string
	Email        string
	RegisteredAt time.Time
	Metadata     map[string]any
}

// SessionTerminatedEvent announces a session that left the active set. The
// evicted device is not told synchronously; downstream consumers decide
// whether a notification is warranted.
type SessionTerminatedEvent struct {
	EventID      string
	SessionID    string
	PrincipalID  string
	Reason       string
	DeviceType   string
	IPAddress    *string
	TerminatedAt time.Time
	Metadata     map[string]any
}

// AccountLockedEvent signals that a principal was locked and a notification
// is warranted. Delivery is a collaborator concern.
type AccountLockedEvent struct {
	EventID       string
	PrincipalID   string
	Reason        string
	LockedAt      time.Time
	LockExpiresAt *time.Time
	FailedLogins  int
	Metadata      map[string]any
}

// AccountUnlockedEvent signals that a lock was cleared, either by the
// background sweep or an explicit administrative unlock.
type AccountUnlockedEvent struct {
	EventID     string
	PrincipalID string
	UnlockedBy  string
	UnlockedAt  time.Time
	Metadata    map[string]any
}

// PrincipalSyncedEvent records a completed reconciliation between the local
// store and the external identity provider.
type PrincipalSyncedEvent struct {
	EventID     string
	PrincipalID string
	ExternalID  *string
	SyncType    SyncEventType
	Direction   SyncDirection
	SyncedAt    time.Time
	Metadata    map[string]any
}

// TwoFactorChangedEvent announces enable/disable transitions of a principal's
// second-factor protection.
type TwoFactorChangedEvent struct {
	EventID     string
	PrincipalID string
	Enabled     bool
	Method      TwoFactorMethod
	ChangedAt   time.Time
	Metadata    map[string]any
}
