// Package timeline keeps per-entity chronological indices of actions in
// redis sorted sets, with paired count registers, and fans an actor's
// action out to follower timelines through an asynchronous dispatcher.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/registry"
	"github.com/d60-Lab/socialgraph/internal/uid"
)

// Visibility scopes an index: private is everything the owner sees,
// public the subset visible to anyone viewing the owner.
const (
	visPrivate = "private"
	visPublic  = "public"
)

// Hooks are observability points fired around each locally dispatched
// save. Replicated fan-out writes do not re-fire them.
type Hooks struct {
	PreSave  func(owner registry.Ref, a *Action)
	PostSave func(owner registry.Ref, a *Action)
}

// Dispatcher hands a fan-out job to an external executor. Enqueue must
// not block the caller; the job may run more than once, which is safe
// because index inserts are keyed by action uid.
type Dispatcher interface {
	Enqueue(actorUID int64, data Wire)
}

// Options tune an Engine beyond its required collaborators.
type Options struct {
	Hooks    Hooks
	PageSize int
}

// Engine owns the shared collaborators; Timeline binds it to one owner.
type Engine struct {
	client *redis.Client

	// instances assigns uids to entities, actions to the denormalized
	// action payloads. They run separate counters under separate
	// prefixes.
	instances *uid.Manager
	actions   *uid.Manager

	backend    graph.Backend
	dispatcher Dispatcher
	hooks      Hooks
	pageSize   int
}

func NewEngine(client *redis.Client, instances, actions *uid.Manager, backend graph.Backend, opts Options) (*Engine, error) {
	if client == nil || instances == nil || actions == nil {
		return nil, graph.ErrNotConfigured
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = graph.DefaultPageSize
	}
	return &Engine{
		client:    client,
		instances: instances,
		actions:   actions,
		backend:   backend,
		hooks:     opts.Hooks,
		pageSize:  pageSize,
	}, nil
}

// SetDispatcher wires the async fan-out executor. Without one, saves
// stay local.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }

// Timeline returns the timeline view owned by ref. The value is cheap;
// construct one per use.
func (e *Engine) Timeline(owner registry.Ref) *Timeline {
	return &Timeline{e: e, owner: owner}
}

type Timeline struct {
	e     *Engine
	owner registry.Ref
}

func (t *Timeline) Owner() registry.Ref { return t.owner }

func (e *Engine) key(segments ...string) string {
	return strings.Join(append([]string{e.actions.Prefix(), "uid"}, segments...), ":")
}

func indexKey(base string, targetIdentifier, verb string) string {
	if targetIdentifier != "" {
		base += ":target:" + targetIdentifier
	}
	if verb != "" {
		base += ":verb:" + verb
	}
	return base
}

func countKey(key string) string { return key + ":count" }

// fanoutKeys is the index key set one save touches. Every key also gets
// a verb-scoped sibling during the write, so readers can slice by
// visibility, target type and verb without extra storage scans.
func (e *Engine) fanoutKeys(ownerUID int64, owner registry.Ref, a *Action) []string {
	ownerBase := e.key(strconv.FormatInt(ownerUID, 10))
	actorBase := e.key(strconv.FormatInt(a.ActorUID, 10))
	ownerIsActor := owner == a.Actor

	var keys []string
	keys = append(keys, ownerBase+":"+visPrivate)
	if a.Target != nil {
		keys = append(keys, indexKey(ownerBase+":"+visPrivate, a.Target.Identifier, ""))
	}
	if ownerIsActor {
		keys = append(keys, ownerBase+":"+visPublic)
		if a.Target != nil {
			keys = append(keys, indexKey(ownerBase+":"+visPublic, a.Target.Identifier, ""))
		}
	}
	if a.Target != nil && *a.Target != a.Actor {
		keys = append(keys, indexKey(actorBase+":"+visPrivate, a.Target.Identifier, ""))
		if ownerIsActor {
			keys = append(keys, indexKey(actorBase+":"+visPublic, a.Target.Identifier, ""))
		}
	}

	// The owner and actor branches can produce the same key; writing it
	// twice would drift the counters.
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Save writes the action into the owner's indices and, when the owner
// is the actor and has followers, enqueues the fan-out job.
func (t *Timeline) Save(ctx context.Context, a *Action) error {
	return t.save(ctx, a, true)
}

func (t *Timeline) save(ctx context.Context, a *Action, dispatch bool) error {
	e := t.e

	if dispatch && e.hooks.PreSave != nil {
		e.hooks.PreSave(t.owner, a)
	}

	w, err := a.wire(ctx, e.instances)
	if err != nil {
		return err
	}
	if a.UID == 0 {
		id, err := e.actions.MakeDataUID(ctx, w)
		if err != nil {
			return err
		}
		a.UID = id
		w["uid"] = strconv.FormatInt(id, 10)
	}

	ownerUID, err := e.instances.MakeUID(ctx, t.owner)
	if err != nil {
		return err
	}

	score := float64(a.At.UnixNano()) / float64(time.Second)
	member := strconv.FormatInt(a.UID, 10)

	// One atomic batch: all keys of this save land together.
	pipe := e.client.TxPipeline()
	for _, key := range e.fanoutKeys(ownerUID, t.owner, a) {
		verbKey := indexKey(key, "", a.Verb)
		pipe.Incr(ctx, countKey(key))
		pipe.Incr(ctx, countKey(verbKey))
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		pipe.ZAdd(ctx, verbKey, redis.Z{Score: score, Member: member})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
	}

	if dispatch && t.owner == a.Actor && e.dispatcher != nil && e.backend != nil {
		followers, err := e.backend.FollowersCount(ctx, t.owner, "")
		if err != nil {
			return err
		}
		if followers > 0 {
			e.dispatcher.Enqueue(a.ActorUID, w)
		}
	}

	if dispatch && e.hooks.PostSave != nil {
		e.hooks.PostSave(t.owner, a)
	}
	return nil
}

// FetchOptions filter a retrieval to one verb and/or target type.
type FetchOptions struct {
	Verb             string
	TargetIdentifier string
	Asc              bool
	Offset           int
	PageSize         int
}

func (t *Timeline) GetPrivate(opts FetchOptions) *ActionIter {
	return t.fetch(visPrivate, opts)
}

func (t *Timeline) GetPublic(opts FetchOptions) *ActionIter {
	return t.fetch(visPublic, opts)
}

func (t *Timeline) fetch(visibility string, opts FetchOptions) *ActionIter {
	return newActionIter(t.e, func(ctx context.Context, offset, limit int) ([]Item, error) {
		key, err := t.indexKey(ctx, visibility, opts)
		if err != nil || key == "" {
			return nil, err
		}
		return t.e.page(ctx, key, opts.Asc, offset, limit)
	}, opts)
}

func (t *Timeline) PrivateCount(ctx context.Context, opts FetchOptions) (int64, error) {
	return t.count(ctx, visPrivate, opts)
}

func (t *Timeline) PublicCount(ctx context.Context, opts FetchOptions) (int64, error) {
	return t.count(ctx, visPublic, opts)
}

// count reads the paired register; it never scans the index.
func (t *Timeline) count(ctx context.Context, visibility string, opts FetchOptions) (int64, error) {
	key, err := t.indexKey(ctx, visibility, opts)
	if err != nil || key == "" {
		return 0, err
	}
	val, err := t.e.client.Get(ctx, countKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
	}
	return strconv.ParseInt(val, 10, 64)
}

// indexKey resolves the owner uid without allocating: an owner that was
// never referenced has an empty timeline, reported as key "".
func (t *Timeline) indexKey(ctx context.Context, visibility string, opts FetchOptions) (string, error) {
	ownerUID, err := t.e.instances.GetUID(ctx, t.owner)
	if err != nil || ownerUID == 0 {
		return "", err
	}
	base := t.e.key(strconv.FormatInt(ownerUID, 10)) + ":" + visibility
	return indexKey(base, opts.TargetIdentifier, opts.Verb), nil
}

// MarkAsRead stores the owner's read watermark; the zero time means now.
func (t *Timeline) MarkAsRead(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	ownerUID, err := t.e.instances.MakeUID(ctx, t.owner)
	if err != nil {
		return err
	}
	key := t.e.key(strconv.FormatInt(ownerUID, 10), "read_at")
	if err := t.e.client.Set(ctx, key, formatTimestamp(at), 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
	}
	return nil
}

// RemoveActor deletes every entry authored by actor from the owner's
// private indices, reversing a past fan-out after an unfollow. The
// actor's own indices are left alone; other followers still reference
// the action.
func (t *Timeline) RemoveActor(ctx context.Context, actor registry.Ref) (int64, error) {
	e := t.e
	ownerUID, err := e.instances.GetUID(ctx, t.owner)
	if err != nil || ownerUID == 0 {
		return 0, err
	}
	actorUID, err := e.instances.GetUID(ctx, actor)
	if err != nil || actorUID == 0 {
		return 0, err
	}

	base := e.key(strconv.FormatInt(ownerUID, 10)) + ":" + visPrivate
	members, err := e.client.ZRange(ctx, base, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
	}
	actorMember := strconv.FormatInt(actorUID, 10)

	var removed int64
	for _, member := range members {
		actionUID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return removed, fmt.Errorf("timeline: malformed index member %q: %w", member, err)
		}
		data, err := e.actions.Data(ctx, actionUID)
		if err != nil {
			return removed, err
		}
		if data["actor_uid"] != actorMember {
			continue
		}
		a, err := ActionFromWire(data)
		if err != nil {
			return removed, err
		}

		keys := []string{base}
		if a.Target != nil {
			keys = append(keys, indexKey(base, a.Target.Identifier, ""))
		}
		pipe := e.client.TxPipeline()
		for _, key := range keys {
			verbKey := indexKey(key, "", a.Verb)
			pipe.ZRem(ctx, key, member)
			pipe.ZRem(ctx, verbKey, member)
			pipe.Decr(ctx, countKey(key))
			pipe.Decr(ctx, countKey(verbKey))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
		}
		removed++
	}
	return removed, nil
}

// importEntryScript inserts one back-filled entry. The counter
// increments are conditioned on the ZADD outcome of the base private
// key, so replaying an import cannot drift the registers. KEYS holds
// the index zsets first, then their count registers; ARGV[3] is the
// index key count.
var importEntryScript = redis.NewScript(`
if redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[2]) == 0 then
	return 0
end
local n = tonumber(ARGV[3])
for i = 2, n do
	redis.call('ZADD', KEYS[i], 'NX', ARGV[1], ARGV[2])
end
for i = n + 1, #KEYS do
	redis.call('INCR', KEYS[i])
end
return 1
`)

// ImportActor back-fills the owner's private indices with every entry
// actor authored, so a fresh follow surfaces the actor's history and
// not only future saves. Original scores are kept; entries already
// present are skipped.
func (t *Timeline) ImportActor(ctx context.Context, actor registry.Ref) (int64, error) {
	if t.owner == actor {
		return 0, nil
	}
	e := t.e
	actorUID, err := e.instances.GetUID(ctx, actor)
	if err != nil || actorUID == 0 {
		return 0, err
	}
	ownerUID, err := e.instances.MakeUID(ctx, t.owner)
	if err != nil {
		return 0, err
	}

	// The actor's private base also holds entries fanned in from others;
	// the actor_uid filter keeps the copy to what the actor authored.
	actorBase := e.key(strconv.FormatInt(actorUID, 10)) + ":" + visPrivate
	entries, err := e.client.ZRangeWithScores(ctx, actorBase, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
	}
	ownerBase := e.key(strconv.FormatInt(ownerUID, 10)) + ":" + visPrivate
	actorMember := strconv.FormatInt(actorUID, 10)

	var imported int64
	for _, entry := range entries {
		member := fmt.Sprint(entry.Member)
		actionUID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return imported, fmt.Errorf("timeline: malformed index member %q: %w", member, err)
		}
		data, err := e.actions.Data(ctx, actionUID)
		if err != nil {
			return imported, err
		}
		if data["actor_uid"] != actorMember {
			continue
		}
		a, err := ActionFromWire(data)
		if err != nil {
			return imported, err
		}

		keys := []string{ownerBase, indexKey(ownerBase, "", a.Verb)}
		if a.Target != nil {
			keys = append(keys,
				indexKey(ownerBase, a.Target.Identifier, ""),
				indexKey(ownerBase, a.Target.Identifier, a.Verb))
		}
		args := make([]string, len(keys), 2*len(keys))
		copy(args, keys)
		for _, key := range keys {
			args = append(args, countKey(key))
		}
		added, err := importEntryScript.Run(ctx, e.client, args,
			entry.Score, member, len(keys)).Int64()
		if err != nil {
			return imported, fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
		}
		imported += added
	}
	return imported, nil
}

// ReadAt returns the watermark; ok is false when never marked.
func (t *Timeline) ReadAt(ctx context.Context) (time.Time, bool, error) {
	ownerUID, err := t.e.instances.GetUID(ctx, t.owner)
	if err != nil || ownerUID == 0 {
		return time.Time{}, false, err
	}
	key := t.e.key(strconv.FormatInt(ownerUID, 10), "read_at")
	val, err := t.e.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
	}
	at, err := parseTimestamp(val)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// page loads one slice of an index and rebuilds the actions behind it,
// resolving actor and target entities through the uid manager. Entities
// that no longer exist resolve to nil rather than failing the page; an
// index member with no action record behind it fails it with
// graph.ErrNotFound.
func (e *Engine) page(ctx context.Context, key string, asc bool, offset, limit int) ([]Item, error) {
	var (
		members []string
		err     error
	)
	stop := int64(offset + limit - 1)
	if asc {
		members, err = e.client.ZRange(ctx, key, int64(offset), stop).Result()
	} else {
		members, err = e.client.ZRevRange(ctx, key, int64(offset), stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
	}

	items := make([]Item, 0, len(members))
	for _, member := range members {
		actionUID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("timeline: malformed index member %q: %w", member, err)
		}
		data, err := e.actions.Data(ctx, actionUID)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			// The index named an action whose record is gone. Unlike a
			// vanished entity this breaks the page, not just one field.
			return nil, fmt.Errorf("%w: action %d", graph.ErrNotFound, actionUID)
		}
		a, err := ActionFromWire(data)
		if err != nil {
			return nil, err
		}
		item := Item{Action: a}
		if item.Actor, _, err = e.instances.FromUID(ctx, a.ActorUID); err != nil {
			return nil, err
		}
		if a.Target != nil {
			if item.Target, _, err = e.instances.FromUID(ctx, a.TargetUID); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, nil
}
