package registry

import "context"

// Integration is the capability contract every backend implements. New
// backends are added by implementing this interface and registering a
// Definition; nothing else branches on kind.
type Integration interface {
	Meta() Metadata

	// Config returns the integration's current persisted configuration.
	Config() Config
	// SetConfig replaces the configuration in place. Identity and kind must
	// match; the implementation reconfigures its remote client from the new
	// settings.
	SetConfig(cfg Config) error

	// InstanceName fetches the name of the remote instance this integration
	// connects to (organization name, server name).
	InstanceName(ctx context.Context) (string, error)
	// InstanceURL returns a human-visitable URL for the remote instance.
	InstanceURL() string

	// Validate performs a live check against the remote system: credential
	// validity, required permission scopes, existence of the remote ban list.
	// A missing remote ban list is provisioned as a side effect. Validate
	// never mutates the local enabled state.
	Validate(ctx context.Context, community Community) error

	// BanPlayer places a remote ban and durably records the remote ban id.
	// Fails with *AlreadyBannedError when a record already exists, and with
	// *BanError when the remote call fails; no record is written on failure.
	BanPlayer(ctx context.Context, decision Decision) error
	// UnbanPlayer removes the remote ban recorded for the player. Fails with
	// ErrNotFound when no record exists. A remote 404 counts as success.
	UnbanPlayer(ctx context.Context, playerID string) error

	// BulkBanPlayers applies BanPlayer preconditions per item, silently
	// skipping players already banned, and aggregates remaining failures
	// into one *BulkBanError after attempting all items.
	BulkBanPlayers(ctx context.Context, decisions []Decision) error
	// BulkUnbanPlayers is the unban batch variant; failures aggregate into
	// one *BulkUnbanError.
	BulkUnbanPlayers(ctx context.Context, playerIDs []string) error

	// Synchronize reconciles local BanRecords against the remote ban list.
	Synchronize(ctx context.Context) error
}

// Deps is everything an integration needs besides its own config: the
// bookkeeping stores and the notification sink.
type Deps struct {
	Bans        BanStore
	Configs     ConfigStore
	Communities CommunityStore
	Report      func(Event)
}

// Definition describes one backend kind and constructs its integrations.
type Definition interface {
	Kind() Kind
	DisplayName() string

	// DecodeSettings parses the backend-specific settings JSON.
	DecodeSettings(raw []byte) (any, error)
	// ValidateSettings checks decoded settings offline (required fields,
	// URL shape). Live checks belong to Integration.Validate.
	ValidateSettings(settings any) error
	// MergeSettings folds an update into existing settings, preserving
	// stored secrets the update leaves blank.
	MergeSettings(existing, update any) any

	New(cfg Config, deps Deps) (Integration, error)
}
