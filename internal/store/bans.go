package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/palisade-gg/palisade/internal/registry"
)

// Ban returns the record for (player, integration) or registry.ErrNotFound.
func (s *Store) Ban(ctx context.Context, playerID string, integrationID int64) (registry.BanRecord, error) {
	row, err := s.queryRowBuilder(ctx, s.sb.
		Select("player_id", "integration_id", "remote_id", "created_on").
		From("player_bans").
		Where(sq.Eq{"player_id": playerID, "integration_id": integrationID}))
	if err != nil {
		return registry.BanRecord{}, err
	}

	var rec registry.BanRecord
	if err := row.Scan(&rec.PlayerID, &rec.IntegrationID, &rec.RemoteID, &rec.CreatedOn); err != nil {
		return registry.BanRecord{}, dbErr(err)
	}
	return rec, nil
}

func (s *Store) CreateBan(ctx context.Context, rec registry.BanRecord) error {
	_, err := s.execBuilder(ctx, s.sb.
		Insert("player_bans").
		Columns("player_id", "integration_id", "remote_id", "created_on").
		Values(rec.PlayerID, rec.IntegrationID, rec.RemoteID, time.Now()))
	return dbErr(err)
}

// CreateBans inserts records in bulk. Rows that conflict with an existing
// (player, integration) pair are left untouched so bulk recording is
// idempotent.
func (s *Store) CreateBans(ctx context.Context, recs []registry.BanRecord) error {
	if len(recs) == 0 {
		return nil
	}

	builder := s.sb.
		Insert("player_bans").
		Columns("player_id", "integration_id", "remote_id", "created_on").
		Suffix("ON CONFLICT (player_id, integration_id) DO NOTHING")

	now := time.Now()
	for _, rec := range recs {
		builder = builder.Values(rec.PlayerID, rec.IntegrationID, rec.RemoteID, now)
	}

	_, err := s.execBuilder(ctx, builder)
	return dbErr(err)
}

func (s *Store) DeleteBan(ctx context.Context, playerID string, integrationID int64) error {
	tag, err := s.execBuilder(ctx, s.sb.
		Delete("player_bans").
		Where(sq.Eq{"player_id": playerID, "integration_id": integrationID}))
	if err != nil {
		return dbErr(err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBans(ctx context.Context, integrationID int64, playerIDs []string) error {
	if len(playerIDs) == 0 {
		return nil
	}

	_, err := s.execBuilder(ctx, s.sb.
		Delete("player_bans").
		Where(sq.Eq{"integration_id": integrationID, "player_id": playerIDs}))
	return dbErr(err)
}

func (s *Store) DeleteBansByIntegration(ctx context.Context, integrationID int64) (int64, error) {
	tag, err := s.execBuilder(ctx, s.sb.
		Delete("player_bans").
		Where(sq.Eq{"integration_id": integrationID}))
	if err != nil {
		return 0, dbErr(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) BansByIntegration(ctx context.Context, integrationID int64) ([]registry.BanRecord, error) {
	rows, err := s.queryBuilder(ctx, s.sb.
		Select("player_id", "integration_id", "remote_id", "created_on").
		From("player_bans").
		Where(sq.Eq{"integration_id": integrationID}).
		OrderBy("created_on"))
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var recs []registry.BanRecord
	for rows.Next() {
		var rec registry.BanRecord
		if err := rows.Scan(&rec.PlayerID, &rec.IntegrationID, &rec.RemoteID, &rec.CreatedOn); err != nil {
			return nil, dbErr(err)
		}
		recs = append(recs, rec)
	}
	return recs, dbErr(rows.Err())
}

// PlayerBansForCommunity lists one player's records across all integrations
// owned by the community.
func (s *Store) PlayerBansForCommunity(ctx context.Context, playerID string, communityID int64) ([]registry.BanRecord, error) {
	rows, err := s.queryBuilder(ctx, s.sb.
		Select("b.player_id", "b.integration_id", "b.remote_id", "b.created_on").
		From("player_bans b").
		Join("integrations i ON i.integration_id = b.integration_id").
		Where(sq.Eq{"b.player_id": playerID, "i.community_id": communityID}))
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var recs []registry.BanRecord
	for rows.Next() {
		var rec registry.BanRecord
		if err := rows.Scan(&rec.PlayerID, &rec.IntegrationID, &rec.RemoteID, &rec.CreatedOn); err != nil {
			return nil, dbErr(err)
		}
		recs = append(recs, rec)
	}
	return recs, dbErr(rows.Err())
}

// ExpireBansOfPlayer flips the community's recorded decision for the player
// back to unbanned. Reconciliation calls this when it finds the remote ban
// expired out from under us.
func (s *Store) ExpireBansOfPlayer(ctx context.Context, playerID string, communityID int64) error {
	_, err := s.execBuilder(ctx, s.sb.
		Update("player_decisions").
		Set("banned", false).
		Set("updated_on", time.Now()).
		Where(sq.Eq{"player_id": playerID, "community_id": communityID}))
	return dbErr(err)
}

// SaveDecision upserts the community's current verdict for a player.
func (s *Store) SaveDecision(ctx context.Context, decision registry.Decision) error {
	_, err := s.execBuilder(ctx, s.sb.
		Insert("player_decisions").
		Columns("player_id", "community_id", "banned", "reasons", "updated_on").
		Values(decision.PlayerID, decision.CommunityID, decision.Banned, decision.Reasons, time.Now()).
		Suffix("ON CONFLICT (player_id, community_id) DO UPDATE SET banned = EXCLUDED.banned, reasons = EXCLUDED.reasons, updated_on = EXCLUDED.updated_on"))
	return dbErr(err)
}

// Decision returns the community's current verdict for a player, or
// registry.ErrNotFound when none was recorded.
func (s *Store) Decision(ctx context.Context, playerID string, communityID int64) (registry.Decision, error) {
	row, err := s.queryRowBuilder(ctx, s.sb.
		Select("player_id", "community_id", "banned", "reasons").
		From("player_decisions").
		Where(sq.Eq{"player_id": playerID, "community_id": communityID}))
	if err != nil {
		return registry.Decision{}, err
	}

	var dec registry.Decision
	if err := row.Scan(&dec.PlayerID, &dec.CommunityID, &dec.Banned, &dec.Reasons); err != nil {
		return registry.Decision{}, dbErr(err)
	}
	return dec, nil
}
