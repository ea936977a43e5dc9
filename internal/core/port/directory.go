package port

import "context"

// DirectoryPrincipal is the provider-side representation of a principal.
type DirectoryPrincipal struct {
	ExternalID string
	Username   string
	Email      string
	Enabled    bool
	Roles      []string
}

// DirectoryProvider is the out-of-process system of record for credentials
// and global identity. Calls may fail when the provider is unavailable; the
// sync processor records the failure and retries, foreground paths never
// depend on these calls succeeding.
type DirectoryProvider interface {
	CreatePrincipal(ctx context.Context, principal DirectoryPrincipal) (string, error)
	UpdatePrincipal(ctx context.Context, principal DirectoryPrincipal) error
	DeletePrincipal(ctx context.Context, externalID string) error
	AssignRole(ctx context.Context, externalID, role string) error
	RemoveRole(ctx context.Context, externalID, role string) error
	GetPrincipal(ctx context.Context, externalID string) (*DirectoryPrincipal, error)
}
