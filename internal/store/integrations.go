package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/palisade-gg/palisade/internal/registry"
)

// CreateIntegration persists a new config and assigns cfg.ID from the
// database sequence.
func (s *Store) CreateIntegration(ctx context.Context, cfg *registry.Config) error {
	now := time.Now()
	query, args, err := s.sb.
		Insert("integrations").
		Columns("community_id", "kind", "enabled", "settings", "created_on", "updated_on").
		Values(cfg.CommunityID, string(cfg.Kind), cfg.Enabled, cfg.Settings, now, now).
		Suffix("RETURNING integration_id").
		ToSql()
	if err != nil {
		return err
	}

	if err := s.conn.QueryRow(ctx, query, args...).Scan(&cfg.ID); err != nil {
		return dbErr(err)
	}

	cfg.CreatedOn = now
	cfg.UpdatedOn = now
	return nil
}

func (s *Store) UpdateIntegration(ctx context.Context, cfg registry.Config) error {
	tag, err := s.execBuilder(ctx, s.sb.
		Update("integrations").
		Set("enabled", cfg.Enabled).
		Set("settings", cfg.Settings).
		Set("updated_on", time.Now()).
		Where(sq.Eq{"integration_id": cfg.ID}))
	if err != nil {
		return dbErr(err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *Store) Integration(ctx context.Context, id int64) (registry.Config, error) {
	row, err := s.queryRowBuilder(ctx, s.integrationColumns().Where(sq.Eq{"integration_id": id}))
	if err != nil {
		return registry.Config{}, err
	}
	return scanIntegration(row)
}

func (s *Store) Integrations(ctx context.Context) ([]registry.Config, error) {
	return s.selectIntegrations(ctx, s.integrationColumns().OrderBy("integration_id"))
}

func (s *Store) IntegrationsByCommunity(ctx context.Context, communityID int64) ([]registry.Config, error) {
	return s.selectIntegrations(ctx, s.integrationColumns().
		Where(sq.Eq{"community_id": communityID}).
		OrderBy("integration_id"))
}

// DeleteIntegration removes the config. The player_bans foreign key cascades,
// taking the integration's BanRecords with it.
func (s *Store) DeleteIntegration(ctx context.Context, id int64) error {
	tag, err := s.execBuilder(ctx, s.sb.
		Delete("integrations").
		Where(sq.Eq{"integration_id": id}))
	if err != nil {
		return dbErr(err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *Store) CountIntegrationsByCommunity(ctx context.Context, communityID int64) (int64, error) {
	row, err := s.queryRowBuilder(ctx, s.sb.
		Select("count(integration_id)").
		From("integrations").
		Where(sq.Eq{"community_id": communityID}))
	if err != nil {
		return 0, err
	}

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, dbErr(err)
	}
	return count, nil
}

func (s *Store) integrationColumns() sq.SelectBuilder {
	return s.sb.
		Select("integration_id", "community_id", "kind", "enabled", "settings", "created_on", "updated_on").
		From("integrations")
}

func (s *Store) selectIntegrations(ctx context.Context, builder sq.SelectBuilder) ([]registry.Config, error) {
	rows, err := s.queryBuilder(ctx, builder)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var cfgs []registry.Config
	for rows.Next() {
		cfg, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, dbErr(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (registry.Config, error) {
	var (
		cfg  registry.Config
		kind string
	)
	if err := row.Scan(&cfg.ID, &cfg.CommunityID, &kind, &cfg.Enabled, &cfg.Settings, &cfg.CreatedOn, &cfg.UpdatedOn); err != nil {
		return registry.Config{}, dbErr(err)
	}
	cfg.Kind = registry.Kind(kind)
	return cfg, nil
}
