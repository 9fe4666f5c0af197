package crcon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/palisade-gg/palisade/internal/configstore"
	"github.com/palisade-gg/palisade/internal/registry"
)

type Integration struct {
	mu     gosync.Mutex
	cfg    registry.Config
	set    configstore.CRCONConfig
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
		Kind:             registry.KindCRCON,
		DisplayName:      "Community RCON",
		AdoptsRemoteBans: false,
	}
}

func (i *Integration) Config() registry.Config {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg
}

func (i *Integration) SetConfig(cfg registry.Config) error {
	if cfg.Kind != registry.KindCRCON {
		return fmt.Errorf("kind %q: %w", cfg.Kind, registry.ErrUnknownKind)
	}

	set, err := configstore.DecodeCRCONConfig(cfg.Settings)
	if err != nil {
		return fmt.Errorf("decode crcon settings: %w", err)
	}
	set = set.Normalized()
	if err := set.Validate(); err != nil {
		return err
	}

	client, err := NewClient(set.APIURL, set.APIKey)
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

func (i *Integration) snapshot() (registry.Config, configstore.CRCONConfig, *Client, registry.Bookkeeper) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg, i.set, i.client, i.books
}

func (i *Integration) InstanceName(ctx context.Context) (string, error) {
	_, _, client, _ := i.snapshot()
	return client.ServerName(ctx)
}

func (i *Integration) InstanceURL() string {
	_, set, _, _ := i.snapshot()
	return strings.TrimSuffix(set.APIURL, "/api")
}

// Validate checks connectivity, server version, token permissions and the
// remote blacklist. A configured integration without a blacklist gets one
// provisioned and the new id persisted.
func (i *Integration) Validate(ctx context.Context, community registry.Community) error {
	cfg, set, client, _ := i.snapshot()

	if community.ID != cfg.CommunityID {
		return &registry.ValidationError{Reason: "communities do not match"}
	}

	if err := client.CheckVersion(ctx); err != nil {
		return &registry.ValidationError{Reason: "server version check failed", Err: err}
	}

	missing, err := client.MissingPermissions(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return &registry.ValidationError{Reason: "invalid api key", Err: err}
		}
		return &registry.ValidationError{Reason: "failed to retrieve permissions", Err: err}
	}
	if len(missing) > 0 {
		return &registry.ValidationError{Reason: "token owner has insufficient permissions", MissingScopes: missing}
	}

	if set.BanListID == "" {
		listID, err := client.CreateBlacklist(ctx, fmt.Sprintf("Palisade - %s (ID: %d)", community.Name, community.ID))
		if err != nil {
			return &registry.ValidationError{Reason: "failed to create blacklist", Err: err}
		}
		if err := i.saveBanListID(ctx, listID); err != nil {
			return &registry.ValidationError{Reason: "failed to persist blacklist id", Err: err}
		}
		slog.Info("provisioned crcon blacklist", "integration_id", cfg.ID, "blacklist_id", listID)
		return nil
	}

	if err := client.ValidateBlacklist(ctx, set.BanListID); err != nil {
		return &registry.ValidationError{Reason: "failed to validate blacklist", Err: err}
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

	recordID, err := client.AddRecord(ctx, AddRecordParams{
		BlacklistID: set.BanListID,
		PlayerID:    decision.PlayerID,
		Reason:      BanReason(decision.Reasons, community),
	})
	if err != nil {
		return &registry.BanError{PlayerID: decision.PlayerID, Err: err}
	}

	return books.SetBanID(ctx, decision.PlayerID, recordID)
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

	if err := client.ExpireRecord(ctx, rec.RemoteID); err != nil {
		return &registry.UnbanError{PlayerID: playerID, Err: err}
	}

	return books.DiscardBanID(ctx, playerID)
}

func (i *Integration) BulkBanPlayers(ctx context.Context, decisions []registry.Decision) error {
	cfg, set, client, books := i.snapshot()

	community, err := i.deps.Communities.Community(ctx, cfg.CommunityID)
	if err != nil {
		return err
	}

	recordIDs := make(map[string]string)
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

		recordID, err := client.AddRecord(ctx, AddRecordParams{
			BlacklistID: set.BanListID,
			PlayerID:    decision.PlayerID,
			Reason:      BanReason(decision.Reasons, community),
		})
		if err != nil {
			failed = append(failed, decision.PlayerID)
			lastErr = err
			continue
		}
		recordIDs[decision.PlayerID] = recordID
	}

	if err := books.SetBanIDs(ctx, recordIDs); err != nil {
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

		if err := client.ExpireRecord(ctx, rec.RemoteID); err != nil {
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

// Synchronize reconciles local BanRecords against the remote blacklist.
func (i *Integration) Synchronize(ctx context.Context) error {
	cfg, set, client, books := i.snapshot()
	if cfg.ID == 0 {
		return registry.ErrNotSaved
	}

	remoteRecords, err := client.ListRecords(ctx, set.BanListID)
	if err != nil {
		return fmt.Errorf("list remote records: %w", err)
	}
	remoteByID := make(map[string]Record, len(remoteRecords))
	for _, record := range remoteRecords {
		remoteByID[strconv.FormatInt(record.ID, 10)] = record
	}

	records, err := i.deps.Bans.BansByIntegration(ctx, cfg.ID)
	if err != nil {
		return err
	}

	for _, rec := range records {
		remote, ok := remoteByID[rec.RemoteID]
		if !ok {
			if err := books.DiscardBanID(ctx, rec.PlayerID); err != nil && !errors.Is(err, registry.ErrNotFound) {
				return err
			}
			continue
		}
		delete(remoteByID, rec.RemoteID)

		if !remote.Active {
			if err := i.deps.Bans.ExpireBansOfPlayer(ctx, rec.PlayerID, cfg.CommunityID); err != nil {
				return err
			}
		}
	}

	for id, remote := range remoteByID {
		if !remote.Active {
			continue
		}

		slog.Warn("expiring unrecognized blacklist record", "integration_id", cfg.ID, "record_id", id)
		if err := client.ExpireRecord(ctx, id); err != nil {
			return fmt.Errorf("expire unrecognized record %s: %w", id, err)
		}
		i.report(registry.Event{
			CommunityID:   cfg.CommunityID,
			IntegrationID: cfg.ID,
			Kind:          registry.KindCRCON,
			PlayerID:      remote.PlayerID,
			Title:         "Found unrecognized ban on CRCON blacklist",
			Message: "The managed blacklist contained an active record that was not placed through a shared decision. " +
				"The record has been expired; move personal bans to a different blacklist to restore them.",
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

// BanReason composes the blacklist record reason. CRCON has no practical
// length limit, so the full community name is used.
func BanReason(reasons []string, community registry.Community) string {
	return fmt.Sprintf(
		"Banned for %s.\nDecision by %s\nContact: %s",
		strings.Join(reasons, ", "), community.Name, community.ContactURL,
	)
}
