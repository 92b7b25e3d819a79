package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/registry"
)

// Backend stores follow edges in a relational table, one row per edge.
type Backend struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Backend, error) {
	if db == nil {
		return nil, graph.ErrNotConfigured
	}
	return &Backend{db: db}, nil
}

// Migrate creates the edge table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Follow{})
}

func (b *Backend) Follow(ctx context.Context, from, to registry.Ref) (bool, error) {
	edge := &Follow{
		ID:             uuid.New().String(),
		FromIdentifier: from.Identifier,
		FromObjectID:   from.ObjectID,
		ToIdentifier:   to.Identifier,
		ToObjectID:     to.ObjectID,
		CreatedAt:      time.Now(),
	}
	res := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(edge)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, wrap(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (b *Backend) Unfollow(ctx context.Context, from, to registry.Ref) (int64, error) {
	res := b.db.WithContext(ctx).
		Where("from_identifier = ? AND from_object_id = ? AND to_identifier = ? AND to_object_id = ?",
			from.Identifier, from.ObjectID, to.Identifier, to.ObjectID).
		Delete(&Follow{})
	if res.Error != nil {
		return 0, wrap(res.Error)
	}
	return res.RowsAffected, nil
}

func (b *Backend) IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error) {
	var cnt int64
	err := b.db.WithContext(ctx).Model(&Follow{}).
		Where("from_identifier = ? AND from_object_id = ? AND to_identifier = ? AND to_object_id = ?",
			from.Identifier, from.ObjectID, to.Identifier, to.ObjectID).
		Count(&cnt).Error
	if err != nil {
		return false, wrap(err)
	}
	return cnt > 0, nil
}

func (b *Backend) GetFollowers(to registry.Ref, opts graph.ListOptions) *graph.Iter {
	return graph.NewIter(func(ctx context.Context, offset, limit int) ([]graph.Edge, error) {
		q := b.db.WithContext(ctx).Model(&Follow{}).
			Where("to_identifier = ? AND to_object_id = ?", to.Identifier, to.ObjectID)
		if opts.Identifier != "" {
			q = q.Where("from_identifier = ?", opts.Identifier)
		}
		return b.page(q, "from_identifier", "from_object_id", opts.Asc, offset, limit)
	}, opts)
}

func (b *Backend) GetFollowings(from registry.Ref, opts graph.ListOptions) *graph.Iter {
	return graph.NewIter(func(ctx context.Context, offset, limit int) ([]graph.Edge, error) {
		q := b.db.WithContext(ctx).Model(&Follow{}).
			Where("from_identifier = ? AND from_object_id = ?", from.Identifier, from.ObjectID)
		if opts.Identifier != "" {
			q = q.Where("to_identifier = ?", opts.Identifier)
		}
		return b.page(q, "to_identifier", "to_object_id", opts.Asc, offset, limit)
	}, opts)
}

func (b *Backend) page(q *gorm.DB, identCol, idCol string, asc bool, offset, limit int) ([]graph.Edge, error) {
	order := "created_at DESC"
	if asc {
		order = "created_at ASC"
	}

	type row struct {
		Identifier string
		ObjectID   int64
		CreatedAt  time.Time
	}
	var rows []row
	err := q.Select(fmt.Sprintf("%s AS identifier, %s AS object_id, created_at", identCol, idCol)).
		Order(order).Offset(offset).Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, wrap(err)
	}

	edges := make([]graph.Edge, len(rows))
	for i, r := range rows {
		edges[i] = graph.Edge{
			Ref: registry.Ref{Identifier: r.Identifier, ObjectID: r.ObjectID},
			At:  r.CreatedAt,
		}
	}
	return edges, nil
}

func (b *Backend) FollowersCount(ctx context.Context, to registry.Ref, identifier string) (int64, error) {
	q := b.db.WithContext(ctx).Model(&Follow{}).
		Where("to_identifier = ? AND to_object_id = ?", to.Identifier, to.ObjectID)
	if identifier != "" {
		q = q.Where("from_identifier = ?", identifier)
	}
	var cnt int64
	if err := q.Count(&cnt).Error; err != nil {
		return 0, wrap(err)
	}
	return cnt, nil
}

func (b *Backend) FollowingsCount(ctx context.Context, from registry.Ref, identifier string) (int64, error) {
	q := b.db.WithContext(ctx).Model(&Follow{}).
		Where("from_identifier = ? AND from_object_id = ?", from.Identifier, from.ObjectID)
	if identifier != "" {
		q = q.Where("to_identifier = ?", identifier)
	}
	var cnt int64
	if err := q.Count(&cnt).Error; err != nil {
		return 0, wrap(err)
	}
	return cnt, nil
}

// FriendIDs intersects ref's followings with its followers. The
// friendship timestamp is the later of the two edge timestamps.
func (b *Backend) FriendIDs(ctx context.Context, ref registry.Ref, identifier string) (map[string][]graph.Friend, error) {
	type row struct {
		Identifier string
		ObjectID   int64
		CreatedAt  time.Time
	}

	q := b.db.WithContext(ctx).Model(&Follow{}).
		Select("to_identifier AS identifier, to_object_id AS object_id, created_at").
		Where("from_identifier = ? AND from_object_id = ?", ref.Identifier, ref.ObjectID)
	if identifier != "" {
		q = q.Where("to_identifier = ?", identifier)
	}
	var followings []row
	if err := q.Scan(&followings).Error; err != nil {
		return nil, wrap(err)
	}

	followedAt := make(map[registry.Ref]time.Time, len(followings))
	for _, r := range followings {
		followedAt[registry.Ref{Identifier: r.Identifier, ObjectID: r.ObjectID}] = r.CreatedAt
	}

	q = b.db.WithContext(ctx).Model(&Follow{}).
		Select("from_identifier AS identifier, from_object_id AS object_id, created_at").
		Where("to_identifier = ? AND to_object_id = ?", ref.Identifier, ref.ObjectID)
	if identifier != "" {
		q = q.Where("from_identifier = ?", identifier)
	}
	var followers []row
	if err := q.Scan(&followers).Error; err != nil {
		return nil, wrap(err)
	}

	friends := make(map[string][]graph.Friend)
	for _, r := range followers {
		peer := registry.Ref{Identifier: r.Identifier, ObjectID: r.ObjectID}
		outAt, ok := followedAt[peer]
		if !ok {
			continue
		}
		since := r.CreatedAt
		if outAt.After(since) {
			since = outAt
		}
		friends[r.Identifier] = append(friends[r.Identifier], graph.Friend{ObjectID: r.ObjectID, Since: since})
	}
	return friends, nil
}

func wrap(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", graph.ErrIntegrity, err)
	case errors.Is(err, gorm.ErrInvalidDB):
		return fmt.Errorf("%w: %v", graph.ErrNotConfigured, err)
	default:
		return err
	}
}
