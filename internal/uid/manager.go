package uid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialgraph/internal/registry"
)

const (
	fieldIdentifier = "identifier"
	fieldObjectID   = "object_id"
	fieldUID        = "uid"
)

// Manager hands out compact integer handles for entities and arbitrary
// payloads. The allocator is a single redis INCR register, so uids are
// unique across concurrent callers; a uid is never reassigned.
//
// Key layout under the configured prefix:
//
//	<prefix>:global:uid                      allocator register
//	<prefix>:uid:<uid>                       reverse record (hash)
//	<prefix>:uid:<identifier>:<object_id>    forward idempotency key
type Manager struct {
	client *redis.Client
	prefix string
	reg    *registry.Registry
}

func NewManager(client *redis.Client, prefix string, reg *registry.Registry) *Manager {
	return &Manager{client: client, prefix: prefix, reg: reg}
}

// Prefix returns the key namespace this manager writes under.
func (m *Manager) Prefix() string { return m.prefix }

func (m *Manager) key(segments ...string) string {
	return strings.Join(append([]string{m.prefix}, segments...), ":")
}

func (m *Manager) forwardKey(ref registry.Ref) string {
	return m.key("uid", ref.Identifier, strconv.FormatInt(ref.ObjectID, 10))
}

func (m *Manager) reverseKey(uid int64) string {
	return m.key("uid", strconv.FormatInt(uid, 10))
}

// MakeUID returns the uid for ref, allocating one on first reference.
// The reverse record is written before the forward key so a returned
// uid is always resolvable; a racing caller that loses the forward-key
// window at worst allocates a second uid whose forward key write makes
// subsequent calls converge.
func (m *Manager) MakeUID(ctx context.Context, ref registry.Ref) (int64, error) {
	uid, err := m.GetUID(ctx, ref)
	if err != nil {
		return 0, err
	}
	if uid != 0 {
		return uid, nil
	}

	uid, err = m.allocate(ctx, map[string]string{
		fieldIdentifier: ref.Identifier,
		fieldObjectID:   strconv.FormatInt(ref.ObjectID, 10),
	})
	if err != nil {
		return 0, err
	}
	if err := m.client.Set(ctx, m.forwardKey(ref), uid, 0).Err(); err != nil {
		return 0, fmt.Errorf("uid: set forward key: %w", err)
	}
	return uid, nil
}

// MakeDataUID allocates a fresh uid for an arbitrary payload and stores
// the fields in the reverse record. No forward key is written: every
// call allocates.
func (m *Manager) MakeDataUID(ctx context.Context, fields map[string]string) (int64, error) {
	return m.allocate(ctx, fields)
}

func (m *Manager) allocate(ctx context.Context, fields map[string]string) (int64, error) {
	uid, err := m.client.Incr(ctx, m.key("global", "uid")).Result()
	if err != nil {
		return 0, fmt.Errorf("uid: allocate: %w", err)
	}

	record := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record[fieldUID] = strconv.FormatInt(uid, 10)
	if err := m.client.HSet(ctx, m.reverseKey(uid), record).Err(); err != nil {
		return 0, fmt.Errorf("uid: write reverse record: %w", err)
	}
	return uid, nil
}

// GetUID looks up the uid for ref without allocating. 0 means no uid
// has been assigned.
func (m *Manager) GetUID(ctx context.Context, ref registry.Ref) (int64, error) {
	val, err := m.client.Get(ctx, m.forwardKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("uid: get: %w", err)
	}
	return strconv.ParseInt(val, 10, 64)
}

// Data reads the raw reverse record for uid. Empty map when absent.
func (m *Manager) Data(ctx context.Context, uid int64) (map[string]string, error) {
	data, err := m.client.HGetAll(ctx, m.reverseKey(uid)).Result()
	if err != nil {
		return nil, fmt.Errorf("uid: read reverse record: %w", err)
	}
	return data, nil
}

// RefFromUID resolves uid back to an entity ref. ok is false when the
// reverse record is gone or never carried an entity.
func (m *Manager) RefFromUID(ctx context.Context, uid int64) (registry.Ref, bool, error) {
	data, err := m.Data(ctx, uid)
	if err != nil {
		return registry.Ref{}, false, err
	}
	identifier, ok := data[fieldIdentifier]
	if !ok {
		return registry.Ref{}, false, nil
	}
	objectID, err := strconv.ParseInt(data[fieldObjectID], 10, 64)
	if err != nil {
		return registry.Ref{}, false, fmt.Errorf("uid: malformed reverse record %d: %w", uid, err)
	}
	return registry.Ref{Identifier: identifier, ObjectID: objectID}, true, nil
}

// FromUID resolves uid through the registry to the concrete entity.
// A vanished record or entity yields (nil, zero ref, nil).
func (m *Manager) FromUID(ctx context.Context, uid int64) (interface{}, registry.Ref, error) {
	ref, ok, err := m.RefFromUID(ctx, uid)
	if err != nil || !ok {
		return nil, registry.Ref{}, err
	}
	src, ok := m.reg.Lookup(ref.Identifier)
	if !ok {
		return nil, ref, nil
	}
	entity, err := src.Load(ctx, ref.ObjectID)
	if err != nil {
		return nil, ref, err
	}
	return entity, ref, nil
}
