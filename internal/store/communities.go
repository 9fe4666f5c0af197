package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/palisade-gg/palisade/internal/registry"
)

func (s *Store) Community(ctx context.Context, id int64) (registry.Community, error) {
	row, err := s.queryRowBuilder(ctx, s.sb.
		Select("community_id", "name", "tag", "contact_url").
		From("communities").
		Where(sq.Eq{"community_id": id}))
	if err != nil {
		return registry.Community{}, err
	}

	var c registry.Community
	if err := row.Scan(&c.ID, &c.Name, &c.Tag, &c.ContactURL); err != nil {
		return registry.Community{}, dbErr(err)
	}
	return c, nil
}

// CreateCommunity persists a community and assigns its id. Communities are
// managed by the upstream report workflow; this exists for provisioning and
// tests.
func (s *Store) CreateCommunity(ctx context.Context, c *registry.Community) error {
	query, args, err := s.sb.
		Insert("communities").
		Columns("name", "tag", "contact_url", "created_on").
		Values(c.Name, c.Tag, c.ContactURL, time.Now()).
		Suffix("RETURNING community_id").
		ToSql()
	if err != nil {
		return err
	}

	if err := s.conn.QueryRow(ctx, query, args...).Scan(&c.ID); err != nil {
		return dbErr(err)
	}
	return nil
}
