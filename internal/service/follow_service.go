package service

import (
	"context"
	"errors"

	"github.com/d60-Lab/socialgraph/internal/event"
	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/registry"
)

var ErrFollowSelf = errors.New("cannot follow self")

// FollowService is the edge mutation surface the thin endpoint layer
// talks to. The core backend permits self-loops; this layer is the
// caller that forbids them.
type FollowService interface {
	Follow(ctx context.Context, from, to registry.Ref) (created bool, err error)
	Unfollow(ctx context.Context, from, to registry.Ref) (affected int64, err error)
	IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error)
	ListFollowers(ctx context.Context, ref registry.Ref, identifier string, page, pageSize int) ([]graph.Edge, error)
	ListFollowings(ctx context.Context, ref registry.Ref, identifier string, page, pageSize int) ([]graph.Edge, error)
	FollowersCount(ctx context.Context, ref registry.Ref, identifier string) (int64, error)
	FollowingsCount(ctx context.Context, ref registry.Ref, identifier string) (int64, error)
}

type followService struct {
	backend graph.Backend
	bus     *event.Bus
}

func NewFollowService(backend graph.Backend, bus *event.Bus) FollowService {
	return &followService{backend: backend, bus: bus}
}

func (s *followService) Follow(ctx context.Context, from, to registry.Ref) (bool, error) {
	if from == to {
		return false, ErrFollowSelf
	}
	created, err := s.backend.Follow(ctx, from, to)
	if err != nil {
		return false, err
	}
	if created && s.bus != nil {
		s.bus.EmitFollowed(from, to)
	}
	return created, nil
}

func (s *followService) Unfollow(ctx context.Context, from, to registry.Ref) (int64, error) {
	affected, err := s.backend.Unfollow(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if affected > 0 && s.bus != nil {
		s.bus.EmitUnfollowed(from, to)
	}
	return affected, nil
}

func (s *followService) IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error) {
	return s.backend.IsFollowing(ctx, from, to)
}

func (s *followService) ListFollowers(ctx context.Context, ref registry.Ref, identifier string, page, pageSize int) ([]graph.Edge, error) {
	offset, limit := pageWindow(page, pageSize)
	it := s.backend.GetFollowers(ref, graph.ListOptions{Identifier: identifier, Offset: offset, PageSize: limit})
	return it.Collect(ctx, limit)
}

func (s *followService) ListFollowings(ctx context.Context, ref registry.Ref, identifier string, page, pageSize int) ([]graph.Edge, error) {
	offset, limit := pageWindow(page, pageSize)
	it := s.backend.GetFollowings(ref, graph.ListOptions{Identifier: identifier, Offset: offset, PageSize: limit})
	return it.Collect(ctx, limit)
}

func (s *followService) FollowersCount(ctx context.Context, ref registry.Ref, identifier string) (int64, error) {
	return s.backend.FollowersCount(ctx, ref, identifier)
}

func (s *followService) FollowingsCount(ctx context.Context, ref registry.Ref, identifier string) (int64, error) {
	return s.backend.FollowingsCount(ctx, ref, identifier)
}

func pageWindow(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return (page - 1) * pageSize, pageSize
}
