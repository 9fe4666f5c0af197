package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Bookkeeper wraps a BanStore with the capability contract's precondition
// semantics for one integration. Backends compose one of these instead of
// inheriting shared ban bookkeeping.
type Bookkeeper struct {
	IntegrationID int64
	Bans          BanStore
}

// Ban returns the integration's record for the player, or nil when the
// player is not banned by this integration.
func (b Bookkeeper) Ban(ctx context.Context, playerID string) (*BanRecord, error) {
	rec, err := b.Bans.Ban(ctx, playerID, b.IntegrationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SetBanID records the remote ban id for the player. A conflicting record
// surfaces as *AlreadyBannedError.
func (b Bookkeeper) SetBanID(ctx context.Context, playerID, remoteID string) error {
	slog.Info("recording ban", "integration_id", b.IntegrationID, "player_id", playerID, "remote_id", remoteID)

	err := b.Bans.CreateBan(ctx, BanRecord{
		PlayerID:      playerID,
		IntegrationID: b.IntegrationID,
		RemoteID:      remoteID,
	})
	if errors.Is(err, ErrAlreadyExists) {
		return &AlreadyBannedError{PlayerID: playerID}
	}
	return err
}

// SetBanIDs records remote ban ids in bulk; rows conflicting with existing
// records are silently ignored.
func (b Bookkeeper) SetBanIDs(ctx context.Context, remoteIDsByPlayer map[string]string) error {
	if len(remoteIDsByPlayer) == 0 {
		return nil
	}

	recs := make([]BanRecord, 0, len(remoteIDsByPlayer))
	for playerID, remoteID := range remoteIDsByPlayer {
		recs = append(recs, BanRecord{
			PlayerID:      playerID,
			IntegrationID: b.IntegrationID,
			RemoteID:      remoteID,
		})
	}

	slog.Info("recording bans in bulk", "integration_id", b.IntegrationID, "count", len(recs))

	return b.Bans.CreateBans(ctx, recs)
}

// DiscardBanID deletes the player's record. A missing record is an error so
// callers can distinguish "never banned" from "unbanned".
func (b Bookkeeper) DiscardBanID(ctx context.Context, playerID string) error {
	if _, err := b.Bans.Ban(ctx, playerID, b.IntegrationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("ban record for player %s: %w", playerID, ErrNotFound)
		}
		return err
	}
	return b.Bans.DeleteBan(ctx, playerID, b.IntegrationID)
}

// DiscardBanIDs deletes the players' records in bulk; missing records are
// skipped.
func (b Bookkeeper) DiscardBanIDs(ctx context.Context, playerIDs []string) error {
	if len(playerIDs) == 0 {
		return nil
	}

	slog.Info("discarding bans in bulk", "integration_id", b.IntegrationID, "count", len(playerIDs))

	return b.Bans.DeleteBans(ctx, b.IntegrationID, playerIDs)
}
