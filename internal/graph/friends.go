package graph

import (
	"context"

	"github.com/d60-Lab/socialgraph/internal/registry"
)

const (
	// maxDegreeDepth bounds the breadth-first expansion over the
	// friendship graph: the engine distinguishes self/friend (0) and
	// friend-of-friend (1) and nothing beyond.
	maxDegreeDepth = 2

	// DegreeBeyond is the sentinel returned when no path is found
	// within the bounded search.
	DegreeBeyond = maxDegreeDepth + 1
)

// Friends computes mutual-follow sets and bounded friendship distance
// over any Backend. It is not a general shortest-path solver.
type Friends struct {
	backend Backend
}

func NewFriends(b Backend) *Friends {
	return &Friends{backend: b}
}

// FriendIDs returns ref's mutual-follow peers grouped by identifier.
func (f *Friends) FriendIDs(ctx context.Context, ref registry.Ref, identifier string) (map[string][]Friend, error) {
	return f.backend.FriendIDs(ctx, ref, identifier)
}

func (f *Friends) FriendsCount(ctx context.Context, ref registry.Ref, identifier string) (int64, error) {
	ids, err := f.backend.FriendIDs(ctx, ref, identifier)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, friends := range ids {
		count += int64(len(friends))
	}
	return count, nil
}

func (f *Friends) IsFriend(ctx context.Context, a, b registry.Ref) (bool, error) {
	friends, err := f.friendRefs(ctx, a)
	if err != nil {
		return false, err
	}
	for _, ref := range friends {
		if ref == b {
			return true, nil
		}
	}
	return false, nil
}

// Degree returns the friendship-hop distance between a and b: 0 when
// they are the same entity or direct friends, 1 when b is a friend of
// one of a's friends, and DegreeBeyond otherwise. The search never
// expands past maxDegreeDepth levels.
func (f *Friends) Degree(ctx context.Context, a, b registry.Ref) (int, error) {
	if a == b {
		return 0, nil
	}

	seen := map[registry.Ref]bool{a: true}
	frontier := []registry.Ref{a}

	for depth := 0; depth < maxDegreeDepth; depth++ {
		next, err := f.expand(ctx, frontier, seen)
		if err != nil {
			return 0, err
		}
		for _, ref := range next {
			if ref == b {
				return depth, nil
			}
		}
		frontier = next
	}
	return DegreeBeyond, nil
}

// RelatedFriends returns the entities exactly degree friendship-hops
// away from ref: degree 0 is the direct friends, degree 1 the
// friends-of-friends that are neither ref itself nor direct friends.
func (f *Friends) RelatedFriends(ctx context.Context, ref registry.Ref, degree int) ([]registry.Ref, error) {
	seen := map[registry.Ref]bool{ref: true}
	frontier := []registry.Ref{ref}

	var err error
	for depth := 0; depth <= degree; depth++ {
		frontier, err = f.expand(ctx, frontier, seen)
		if err != nil {
			return nil, err
		}
	}
	return frontier, nil
}

// expand walks one friendship level out from frontier, skipping every
// ref already seen so closer entities never reappear at a deeper level.
func (f *Friends) expand(ctx context.Context, frontier []registry.Ref, seen map[registry.Ref]bool) ([]registry.Ref, error) {
	var next []registry.Ref
	for _, ref := range frontier {
		friends, err := f.friendRefs(ctx, ref)
		if err != nil {
			return nil, err
		}
		for _, friend := range friends {
			if seen[friend] {
				continue
			}
			seen[friend] = true
			next = append(next, friend)
		}
	}
	return next, nil
}

func (f *Friends) friendRefs(ctx context.Context, ref registry.Ref) ([]registry.Ref, error) {
	ids, err := f.backend.FriendIDs(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	var out []registry.Ref
	for identifier, friends := range ids {
		for _, friend := range friends {
			out = append(out, registry.Ref{Identifier: identifier, ObjectID: friend.ObjectID})
		}
	}
	return out, nil
}
