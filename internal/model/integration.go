package model

import "time"

// UserIntegration records a user's connection to one calendar provider
// together with its OAuth credentials.  At most one active row exists per
// (UserID, ProviderType); disconnecting flips IsActive rather than deleting
// the row so that already-synced events and the audit trail survive.
//
// Fields:
//
//	ID           – primary key identifier.
//	UserID       – owner of the connection.
//	ProviderType – which platform the tokens belong to.
//	ProviderID   – the external account id reported by the provider.
//	AccessToken  – current OAuth access token.
//	RefreshToken – refresh token, empty when the provider issued none.
//	ExpiresAt    – access token expiry; zero when the provider does not
//	               report one.
//	Scope        – granted permission scopes.
//	IsActive     – false after disconnect or irrecoverable auth failure.
//	LastSyncAt   – completion time of the last successful sync.
type UserIntegration struct {
	ID           uint64       // user_integrations.id
	UserID       uint64       // user_integrations.user_id
	ProviderType ProviderType // user_integrations.provider_type
	ProviderID   string       // user_integrations.provider_id
	AccessToken  string       // user_integrations.access_token
	RefreshToken string       // user_integrations.refresh_token
	ExpiresAt    time.Time    // user_integrations.expires_at
	Scope        []string     // user_integrations.scope (JSON column)
	IsActive     bool         // user_integrations.is_active
	LastSyncAt   time.Time    // user_integrations.last_sync_at
	CreatedAt    time.Time    // user_integrations.created_at
	UpdatedAt    time.Time    // user_integrations.updated_at
}
