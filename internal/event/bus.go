// Package event carries the follow/unfollow notifications between the
// graph mutation path and whatever subscribes to it, without a global
// dispatch registry: the bus is constructed at startup and injected.
package event

import (
	"sync"

	"github.com/d60-Lab/socialgraph/internal/registry"
)

// FollowHandler observes an edge mutation between two entities.
type FollowHandler func(from, to registry.Ref)

type Bus struct {
	mu         sync.RWMutex
	followed   []FollowHandler
	unfollowed []FollowHandler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) OnFollowed(h FollowHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.followed = append(b.followed, h)
}

func (b *Bus) OnUnfollowed(h FollowHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unfollowed = append(b.unfollowed, h)
}

// EmitFollowed runs the followed handlers on the caller's goroutine.
func (b *Bus) EmitFollowed(from, to registry.Ref) {
	b.mu.RLock()
	handlers := b.followed
	b.mu.RUnlock()
	for _, h := range handlers {
		h(from, to)
	}
}

func (b *Bus) EmitUnfollowed(from, to registry.Ref) {
	b.mu.RLock()
	handlers := b.unfollowed
	b.mu.RUnlock()
	for _, h := range handlers {
		h(from, to)
	}
}
