package registry

import "context"

// BanStore is the persistent (player, integration) → remote ban id mapping.
// Uniqueness of the pair is a store constraint, not application logic, so
// concurrent bans settle as first-writer-wins.
type BanStore interface {
	// Ban returns the record for (player, integration) or ErrNotFound.
	Ban(ctx context.Context, playerID string, integrationID int64) (BanRecord, error)
	// CreateBan inserts a record, returning ErrAlreadyExists on conflict.
	CreateBan(ctx context.Context, rec BanRecord) error
	// CreateBans inserts records, silently ignoring conflicting rows.
	CreateBans(ctx context.Context, recs []BanRecord) error
	// DeleteBan removes the record for (player, integration).
	DeleteBan(ctx context.Context, playerID string, integrationID int64) error
	// DeleteBans removes the integration's records for the given players.
	DeleteBans(ctx context.Context, integrationID int64, playerIDs []string) error
	// DeleteBansByIntegration removes every record of one integration and
	// returns the number removed.
	DeleteBansByIntegration(ctx context.Context, integrationID int64) (int64, error)
	// BansByIntegration lists all records of one integration.
	BansByIntegration(ctx context.Context, integrationID int64) ([]BanRecord, error)
	// PlayerBansForCommunity lists a player's records across all of a
	// community's integrations.
	PlayerBansForCommunity(ctx context.Context, playerID string, communityID int64) ([]BanRecord, error)
	// ExpireBansOfPlayer flips the community's recorded decision for the
	// player back to unbanned. Used when reconciliation finds the remote ban
	// expired.
	ExpireBansOfPlayer(ctx context.Context, playerID string, communityID int64) error
}

// ConfigStore is the persistence boundary for integration configurations.
type ConfigStore interface {
	// CreateIntegration persists a new config and assigns cfg.ID.
	CreateIntegration(ctx context.Context, cfg *Config) error
	UpdateIntegration(ctx context.Context, cfg Config) error
	// Integration returns the config with the given id or ErrNotFound.
	Integration(ctx context.Context, id int64) (Config, error)
	Integrations(ctx context.Context) ([]Config, error)
	IntegrationsByCommunity(ctx context.Context, communityID int64) ([]Config, error)
	// DeleteIntegration removes the config; associated BanRecords cascade.
	DeleteIntegration(ctx context.Context, id int64) error
	CountIntegrationsByCommunity(ctx context.Context, communityID int64) (int64, error)
}

// CommunityStore resolves community identities for validation and ban
// reasons.
type CommunityStore interface {
	Community(ctx context.Context, id int64) (Community, error)
}
