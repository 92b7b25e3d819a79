package graph

import (
	"context"
	"time"

	"github.com/d60-Lab/socialgraph/internal/registry"
)

// Edge is one direction of a follow relationship as seen from a listing:
// the entity on the other end plus the time the edge was created.
type Edge struct {
	Ref registry.Ref
	At  time.Time
}

// Friend is a mutual-follow peer. Since is the later of the two edges'
// creation times: the friendship begins with the reciprocating follow.
type Friend struct {
	ObjectID int64
	Since    time.Time
}

// ListOptions controls paginated edge listings.
type ListOptions struct {
	// Desc orders newest-first. Listings default to descending; set
	// Asc to flip.
	Asc bool

	// Identifier restricts results to one entity type.
	Identifier string

	// Offset skips that many edges before yielding.
	Offset int

	// PageSize is the fetch granularity of the lazy iterator.
	PageSize int
}

// Backend is the durable store of directed follow edges. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Follow records an edge. It is idempotent: following twice reports
	// created=false without error.
	Follow(ctx context.Context, from, to registry.Ref) (created bool, err error)

	// Unfollow removes the edge, reporting how many were removed (0 when
	// no edge existed).
	Unfollow(ctx context.Context, from, to registry.Ref) (affected int64, err error)

	IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error)

	// GetFollowers lists entities following to, ordered by edge creation
	// time. The iterator fetches lazily, page by page.
	GetFollowers(to registry.Ref, opts ListOptions) *Iter

	// GetFollowings lists entities followed by from.
	GetFollowings(from registry.Ref, opts ListOptions) *Iter

	// FollowersCount reports how many entities follow to, optionally
	// restricted to one identifier.
	FollowersCount(ctx context.Context, to registry.Ref, identifier string) (int64, error)

	FollowingsCount(ctx context.Context, from registry.Ref, identifier string) (int64, error)

	// FriendIDs returns the mutual-follow peers of ref grouped by
	// identifier, each with the friendship start time.
	FriendIDs(ctx context.Context, ref registry.Ref, identifier string) (map[string][]Friend, error)
}
