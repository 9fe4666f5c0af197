package battlemetrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	gosync "sync"
	"time"

	"github.com/palisade-gg/palisade/internal/configstore"
	"github.com/palisade-gg/palisade/internal/registry"
)

// Battlemetrics identifier types for the two player id formats we accept.
const (
	identifierSteamID   = "steamID"
	identifierWindowsID = "hllWindowsID"
)

type Integration struct {
	mu     gosync.Mutex
	cfg    registry.Config
	set    configstore.BattlemetricsConfig
	client *Client

	books registry.Bookkeeper
	deps  registry.Deps
}

func NewIntegration(cfg registry.Config, deps registry.Deps) (*Integration, error) {
	integ := &Integration{deps: deps}
	if err := integ.SetConfig(cfg); err != nil {
		return nil, err
	}
	return integ, nil
}

func (i *Integration) Meta() registry.Metadata {
	return registry.Metadata{
		Kind:        registry.KindBattlemetrics,
		DisplayName: "Battlemetrics",
		// Unrecognized active remote bans are expired, never adopted.
		AdoptsRemoteBans: false,
	}
}

func (i *Integration) Config() registry.Config {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg
}

func (i *Integration) SetConfig(cfg registry.Config) error {
	if cfg.Kind != registry.KindBattlemetrics {
		return fmt.Errorf("kind %q: %w", cfg.Kind, registry.ErrUnknownKind)
	}

	set, err := configstore.DecodeBattlemetricsConfig(cfg.Settings)
	if err != nil {
		return fmt.Errorf("decode battlemetrics settings: %w", err)
	}
	set = set.Normalized()
	if err := set.Validate(); err != nil {
		return err
	}

	client, err := NewClient(set.APIKey)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.cfg = cfg
	i.set = set
	i.client = client
	i.books = registry.Bookkeeper{IntegrationID: cfg.ID, Bans: i.deps.Bans}
	return nil
}

func (i *Integration) snapshot() (registry.Config, configstore.BattlemetricsConfig, *Client, registry.Bookkeeper) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg, i.set, i.client, i.books
}

func (i *Integration) InstanceName(ctx context.Context) (string, error) {
	_, set, client, _ := i.snapshot()
	return client.OrganizationName(ctx, set.OrganizationID)
}

func (i *Integration) InstanceURL() string {
	_, set, _, _ := i.snapshot()
	return "https://battlemetrics.com/rcon/orgs/" + set.OrganizationID + "/edit"
}

// Validate checks the credentials, required token scopes and the remote ban
// list. A configured integration without a ban list gets one provisioned and
// the new id persisted.
func (i *Integration) Validate(ctx context.Context, community registry.Community) error {
	cfg, set, client, _ := i.snapshot()

	if community.ID != cfg.CommunityID {
		return &registry.ValidationError{Reason: "communities do not match"}
	}

	scopes, err := client.Scopes(ctx)
	if err != nil {
		return &registry.ValidationError{Reason: "failed to retrieve api token scopes", Err: err}
	}
	if missing := missingScopes(scopes); len(missing) > 0 {
		return &registry.ValidationError{Reason: "api token is missing required scopes", MissingScopes: missing}
	}

	if set.BanListID == "" {
		listID, err := client.CreateBanList(ctx, CreateBanListParams{
			Name:           fmt.Sprintf("Palisade - %s (ID: %d)", community.Name, community.ID),
			OrganizationID: set.OrganizationID,
		})
		if err != nil {
			return &registry.ValidationError{Reason: "failed to create ban list", Err: err}
		}
		if err := i.saveBanListID(ctx, listID); err != nil {
			return &registry.ValidationError{Reason: "failed to persist ban list id", Err: err}
		}
		slog.Info("provisioned battlemetrics ban list", "integration_id", cfg.ID, "ban_list_id", listID)
		return nil
	}

	if err := client.ValidateBanList(ctx, set.BanListID, set.OrganizationID); err != nil {
		return &registry.ValidationError{Reason: "failed to validate ban list", Err: err}
	}
	return nil
}

func (i *Integration) saveBanListID(ctx context.Context, listID string) error {
	i.mu.Lock()
	i.set.BanListID = listID
	settings, err := configstore.EncodeConfig(i.set)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	i.cfg.Settings = settings
	cfg := i.cfg
	i.mu.Unlock()

	return i.deps.Configs.UpdateIntegration(ctx, cfg)
}

func (i *Integration) BanPlayer(ctx context.Context, decision registry.Decision) error {
	cfg, set, client, books := i.snapshot()

	existing, err := books.Ban(ctx, decision.PlayerID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &registry.AlreadyBannedError{PlayerID: decision.PlayerID}
	}

	community, err := i.deps.Communities.Community(ctx, cfg.CommunityID)
	if err != nil {
		return err
	}

	banID, err := client.AddBan(ctx, AddBanParams{
		PlayerID:       decision.PlayerID,
		IdentifierType: identifierType(decision.PlayerID),
		Reason:         BanReason(decision.Reasons, community),
		Note:           banNote(decision.Reasons, community),
		OrganizationID: set.OrganizationID,
		BanListID:      set.BanListID,
	})
	if err != nil {
		return &registry.BanError{PlayerID: decision.PlayerID, Err: err}
	}

	return books.SetBanID(ctx, decision.PlayerID, banID)
}

func (i *Integration) UnbanPlayer(ctx context.Context, playerID string) error {
	_, _, client, books := i.snapshot()

	rec, err := books.Ban(ctx, playerID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("ban record for player %s: %w", playerID, registry.ErrNotFound)
	}

	if err := client.RemoveBan(ctx, rec.RemoteID); err != nil {
		if errors.Is(err, ErrRemoteNotFound) {
			slog.Warn("remote ban already gone", "remote_id", rec.RemoteID, "player_id", playerID)
		} else {
			return &registry.UnbanError{PlayerID: playerID, Err: err}
		}
	}

	return books.DiscardBanID(ctx, playerID)
}

// BulkBanPlayers bans each player, skipping those already banned, and
// aggregates remote failures after attempting the whole batch.
func (i *Integration) BulkBanPlayers(ctx context.Context, decisions []registry.Decision) error {
	cfg, set, client, books := i.snapshot()

	community, err := i.deps.Communities.Community(ctx, cfg.CommunityID)
	if err != nil {
		return err
	}

	banIDs := make(map[string]string)
	var failed []string
	var lastErr error
	for _, decision := range decisions {
		existing, err := books.Ban(ctx, decision.PlayerID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		banID, err := client.AddBan(ctx, AddBanParams{
			PlayerID:       decision.PlayerID,
			IdentifierType: identifierType(decision.PlayerID),
			Reason:         BanReason(decision.Reasons, community),
			Note:           banNote(decision.Reasons, community),
			OrganizationID: set.OrganizationID,
			BanListID:      set.BanListID,
		})
		if err != nil {
			failed = append(failed, decision.PlayerID)
			lastErr = err
			continue
		}
		banIDs[decision.PlayerID] = banID
	}

	if err := books.SetBanIDs(ctx, banIDs); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &registry.BulkBanError{PlayerIDs: failed, Err: lastErr}
	}
	return nil
}

func (i *Integration) BulkUnbanPlayers(ctx context.Context, playerIDs []string) error {
	_, _, client, books := i.snapshot()

	var unbanned []string
	var failed []string
	var lastErr error
	for _, playerID := range playerIDs {
		rec, err := books.Ban(ctx, playerID)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}

		if err := client.RemoveBan(ctx, rec.RemoteID); err != nil && !errors.Is(err, ErrRemoteNotFound) {
			failed = append(failed, playerID)
			lastErr = err
			continue
		}
		unbanned = append(unbanned, playerID)
	}

	if err := books.DiscardBanIDs(ctx, unbanned); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &registry.BulkUnbanError{PlayerIDs: failed, Err: lastErr}
	}
	return nil
}

// Synchronize reconciles local BanRecords against the remote ban list:
// records whose remote ban vanished are dropped, records whose remote ban
// expired flip the community decision back to unbanned, and active remote
// bans we do not recognize are expired and reported.
func (i *Integration) Synchronize(ctx context.Context) error {
	cfg, set, client, books := i.snapshot()
	if cfg.ID == 0 {
		return registry.ErrNotSaved
	}

	remoteBans, err := client.ListBans(ctx, set.BanListID)
	if err != nil {
		return fmt.Errorf("list remote bans: %w", err)
	}
	remoteByID := make(map[string]Ban, len(remoteBans))
	for _, ban := range remoteBans {
		remoteByID[ban.ID] = ban
	}

	records, err := i.deps.Bans.BansByIntegration(ctx, cfg.ID)
	if err != nil {
		return err
	}

	for _, rec := range records {
		remote, ok := remoteByID[rec.RemoteID]
		if !ok {
			// The ban was deleted out from under us; drop the record so a
			// future decision can ban again.
			if err := books.DiscardBanID(ctx, rec.PlayerID); err != nil && !errors.Is(err, registry.ErrNotFound) {
				return err
			}
			continue
		}
		delete(remoteByID, remote.ID)

		if remote.Expired {
			if err := i.deps.Bans.ExpireBansOfPlayer(ctx, rec.PlayerID, cfg.CommunityID); err != nil {
				return err
			}
		}
	}

	for _, remote := range remoteByID {
		if remote.Expired {
			continue
		}

		slog.Warn("expiring unrecognized remote ban", "integration_id", cfg.ID, "remote_id", remote.ID)
		if err := client.ExpireBan(ctx, remote.ID); err != nil {
			return fmt.Errorf("expire unrecognized ban %s: %w", remote.ID, err)
		}
		i.report(registry.Event{
			CommunityID:   cfg.CommunityID,
			IntegrationID: cfg.ID,
			Kind:          registry.KindBattlemetrics,
			PlayerID:      remote.PlayerID,
			Title:         "Found unrecognized ban on Battlemetrics ban list",
			Message: "The managed ban list contained an active ban that was not placed through a shared decision. " +
				"The ban has been expired; move personal bans to a different ban list to restore them.",
			At: time.Now(),
		})
	}

	return nil
}

func (i *Integration) report(e registry.Event) {
	if i.deps.Report != nil {
		i.deps.Report(e)
	}
}

func identifierType(playerID string) string {
	if registry.ClassifyPlayerID(playerID) == registry.PlayerIDUUID {
		return identifierWindowsID
	}
	return identifierSteamID
}

func missingScopes(granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, scope := range granted {
		have[scope] = true
	}

	var missing []string
	for _, required := range RequiredScopes {
		if have[required] {
			continue
		}
		// A bare resource scope like "ban" grants every "ban:*" action.
		if resource, _, ok := strings.Cut(required, ":"); ok && have[resource] {
			continue
		}
		missing = append(missing, required)
	}
	return missing
}
