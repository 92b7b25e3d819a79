package timeline

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/graph/redisb"
	"github.com/d60-Lab/socialgraph/internal/registry"
	"github.com/d60-Lab/socialgraph/internal/uid"
)

type memSource struct {
	identifier string
	entities   map[int64]string
}

func (s *memSource) Identifier() string { return s.identifier }

func (s *memSource) Load(_ context.Context, objectID int64) (interface{}, error) {
	name, ok := s.entities[objectID]
	if !ok {
		return nil, nil
	}
	return name, nil
}

type fixture struct {
	client  *redis.Client
	engine  *Engine
	worker  *Worker
	backend graph.Backend
	users   *memSource
}

func setupEngine(t *testing.T, hooks Hooks) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := &memSource{identifier: "user", entities: map[int64]string{}}
	for id := int64(1); id <= 10; id++ {
		users.entities[id] = "user"
	}
	reg := registry.New()
	require.NoError(t, reg.Register(users))
	require.NoError(t, reg.Register(&memSource{identifier: "project", entities: map[int64]string{1: "orchestra"}}))

	instances := uid.NewManager(client, "sg", reg)
	actions := uid.NewManager(client, "sg:timeline", reg)
	backend, err := redisb.New(client, instances)
	require.NoError(t, err)

	engine, err := NewEngine(client, instances, actions, backend, Options{Hooks: hooks})
	require.NoError(t, err)
	worker := NewWorker(16, 2, 0)
	worker.Attach(engine)
	engine.SetDispatcher(worker)

	return &fixture{client: client, engine: engine, worker: worker, backend: backend, users: users}
}

// drain runs every queued fan-out job on the caller's goroutine.
func (f *fixture) drain(ctx context.Context) {
	for {
		select {
		case job := <-f.worker.ch:
			f.worker.process(ctx, job)
		default:
			return
		}
	}
}

func user(id int64) registry.Ref {
	return registry.Ref{Identifier: "user", ObjectID: id}
}

func project(id int64) registry.Ref {
	return registry.Ref{Identifier: "project", ObjectID: id}
}

func TestSaveOwnTimeline(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	actor := user(1)
	a := NewAction(actor, "star", time.Now()).WithTarget(project(1))
	tl := f.engine.Timeline(actor)
	require.NoError(t, tl.Save(ctx, a))
	assert.NotZero(t, a.UID)

	for _, opts := range []FetchOptions{
		{},
		{Verb: "star"},
		{TargetIdentifier: "project"},
		{Verb: "star", TargetIdentifier: "project"},
	} {
		count, err := tl.PrivateCount(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "private %+v", opts)

		count, err = tl.PublicCount(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "public %+v", opts)
	}

	count, err := tl.PrivateCount(ctx, FetchOptions{Verb: "fork"})
	require.NoError(t, err)
	assert.Zero(t, count)

	items, err := tl.GetPrivate(FetchOptions{}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.UID, items[0].Action.UID)
	assert.Equal(t, "star", items[0].Action.Verb)
	assert.Equal(t, "user", items[0].Actor)
	assert.Equal(t, "orchestra", items[0].Target)
}

func TestFanoutReplication(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	actor := user(1)
	followers := []registry.Ref{user(2), user(3), user(4)}
	for _, follower := range followers {
		_, err := f.backend.Follow(ctx, follower, actor)
		require.NoError(t, err)
	}

	a := NewAction(actor, "star", time.Now()).WithTarget(project(1))
	require.NoError(t, f.engine.Timeline(actor).Save(ctx, a))
	f.drain(ctx)

	// one private entry per follower plus the actor's own, all the
	// same action uid
	for _, follower := range followers {
		tl := f.engine.Timeline(follower)
		count, err := tl.PrivateCount(ctx, FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "follower %s", follower)

		items, err := tl.GetPrivate(FetchOptions{}).Collect(ctx, 0)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, a.UID, items[0].Action.UID)

		// replicas never reach the follower's public feed
		public, err := tl.PublicCount(ctx, FetchOptions{})
		require.NoError(t, err)
		assert.Zero(t, public, "follower %s", follower)
	}

	actorTL := f.engine.Timeline(actor)
	count, err := actorTL.PrivateCount(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, err = actorTL.PublicCount(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// an uninvolved account sees nothing
	count, err = f.engine.Timeline(user(9)).PrivateCount(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Zero(t, count)

	// replication copies the action, it never re-allocates its uid
	allocated, err := f.client.Get(ctx, "sg:timeline:global:uid").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", allocated)
}

func TestFanoutSkipsMissingActor(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	actor := user(1)
	_, err := f.backend.Follow(ctx, user(2), actor)
	require.NoError(t, err)

	a := NewAction(actor, "star", time.Now())
	require.NoError(t, f.engine.Timeline(actor).Save(ctx, a))

	// the actor vanishes before the job runs
	delete(f.users.entities, 1)
	f.drain(ctx)

	count, err := f.engine.Timeline(user(2)).PrivateCount(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHooksFireOncePerDispatchedSave(t *testing.T) {
	var pre, post int
	f := setupEngine(t, Hooks{
		PreSave:  func(registry.Ref, *Action) { pre++ },
		PostSave: func(registry.Ref, *Action) { post++ },
	})
	ctx := context.Background()

	actor := user(1)
	_, err := f.backend.Follow(ctx, user(2), actor)
	require.NoError(t, err)

	require.NoError(t, f.engine.Timeline(actor).Save(ctx, NewAction(actor, "star", time.Now())))
	f.drain(ctx)

	// replica writes do not re-fire hooks
	assert.Equal(t, 1, pre)
	assert.Equal(t, 1, post)
}

func TestCounterConsistency(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	// fanned-out untargeted actions: every index of actor and follower
	// must agree with its register
	actor := user(1)
	_, err := f.backend.Follow(ctx, user(2), actor)
	require.NoError(t, err)

	base := time.Now().Add(-time.Minute)
	tl := f.engine.Timeline(actor)
	require.NoError(t, tl.Save(ctx, NewAction(actor, "star", base)))
	require.NoError(t, tl.Save(ctx, NewAction(actor, "comment", base.Add(time.Second))))
	require.NoError(t, tl.Save(ctx, NewAction(actor, "star", base.Add(2*time.Second))))
	f.drain(ctx)

	verbOptions := []FetchOptions{{}, {Verb: "star"}, {Verb: "comment"}, {Verb: "fork"}}
	for _, view := range []*Timeline{tl, f.engine.Timeline(user(2))} {
		for _, opts := range verbOptions {
			assertCountMatchesListing(t, ctx, view, opts)
		}
	}

	// targeted actions without followers: target-scoped indices agree
	// too
	loner := user(5)
	lonerTL := f.engine.Timeline(loner)
	require.NoError(t, lonerTL.Save(ctx, NewAction(loner, "star", base).WithTarget(project(1))))
	require.NoError(t, lonerTL.Save(ctx, NewAction(loner, "comment", base.Add(time.Second)).WithTarget(project(1))))

	for _, opts := range []FetchOptions{
		{},
		{TargetIdentifier: "project"},
		{Verb: "star", TargetIdentifier: "project"},
		{Verb: "comment"},
	} {
		assertCountMatchesListing(t, ctx, lonerTL, opts)
	}
}

func assertCountMatchesListing(t *testing.T, ctx context.Context, tl *Timeline, opts FetchOptions) {
	t.Helper()
	count, err := tl.PrivateCount(ctx, opts)
	require.NoError(t, err)
	items, err := tl.GetPrivate(opts).Collect(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(items)), count, "owner %s opts %+v", tl.Owner(), opts)
}

func TestRetrievalOrdering(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	actor := user(1)
	tl := f.engine.Timeline(actor)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		a := NewAction(actor, "star", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, tl.Save(ctx, a))
	}

	items, err := tl.GetPrivate(FetchOptions{PageSize: 2}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i := 1; i < len(items); i++ {
		assert.True(t, items[i].Action.At.Before(items[i-1].Action.At), "descending by default")
	}

	asc, err := tl.GetPrivate(FetchOptions{Asc: true, PageSize: 2}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, asc, 5)
	assert.Equal(t, items[4].Action.UID, asc[0].Action.UID)
}

func TestRemoveActorReversesFanout(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	actor := user(1)
	follower := user(2)
	_, err := f.backend.Follow(ctx, follower, actor)
	require.NoError(t, err)

	base := time.Now().Add(-time.Minute)
	tl := f.engine.Timeline(actor)
	require.NoError(t, tl.Save(ctx, NewAction(actor, "star", base).WithTarget(project(1))))
	require.NoError(t, tl.Save(ctx, NewAction(actor, "comment", base.Add(time.Second))))
	f.drain(ctx)

	// the follower writes an action of their own, which must survive
	own := NewAction(follower, "star", base.Add(2*time.Second))
	require.NoError(t, f.engine.Timeline(follower).Save(ctx, own))

	f.worker.EnqueueRemoval(follower, actor)
	f.drain(ctx)

	followerTL := f.engine.Timeline(follower)
	for _, opts := range []FetchOptions{
		{},
		{Verb: "star"},
		{Verb: "comment"},
		{TargetIdentifier: "project"},
	} {
		assertCountMatchesListing(t, ctx, followerTL, opts)
	}

	items, err := followerTL.GetPrivate(FetchOptions{}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, own.UID, items[0].Action.UID)

	// the actor's own indices are untouched
	count, err := tl.PrivateCount(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestImportActorBackfillsHistory(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	followee := user(1)
	base := time.Now().Add(-time.Minute)
	tl := f.engine.Timeline(followee)
	star := NewAction(followee, "star", base).WithTarget(project(1))
	comment := NewAction(followee, "comment", base.Add(time.Second))
	require.NoError(t, tl.Save(ctx, star))
	require.NoError(t, tl.Save(ctx, comment))

	// the followee's own feed also holds an entry fanned in from someone
	// they follow, which must not travel with the import
	_, err := f.backend.Follow(ctx, followee, user(3))
	require.NoError(t, err)
	require.NoError(t, f.engine.Timeline(user(3)).Save(ctx, NewAction(user(3), "fork", base.Add(2*time.Second))))
	f.drain(ctx)

	follower := user(2)
	f.worker.EnqueueImport(follower, followee)
	f.drain(ctx)

	followerTL := f.engine.Timeline(follower)
	for _, opts := range []FetchOptions{
		{},
		{Verb: "star"},
		{Verb: "comment"},
		{Verb: "fork"},
		{TargetIdentifier: "project"},
		{Verb: "star", TargetIdentifier: "project"},
	} {
		assertCountMatchesListing(t, ctx, followerTL, opts)
	}

	items, err := followerTL.GetPrivate(FetchOptions{}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, comment.UID, items[0].Action.UID)
	assert.Equal(t, star.UID, items[1].Action.UID)

	// imported history stays private
	public, err := followerTL.PublicCount(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Zero(t, public)

	// a replayed import changes nothing
	imported, err := followerTL.ImportActor(ctx, followee)
	require.NoError(t, err)
	assert.Zero(t, imported)
	count, err := followerTL.PrivateCount(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// importing yourself is a no-op
	imported, err = tl.ImportActor(ctx, followee)
	require.NoError(t, err)
	assert.Zero(t, imported)
}

func TestPageFailsOnVanishedActionRecord(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	tl := f.engine.Timeline(user(1))
	a := NewAction(user(1), "star", time.Now())
	require.NoError(t, tl.Save(ctx, a))

	// drop the action record while its index entry survives
	require.NoError(t, f.client.Del(ctx, "sg:timeline:uid:"+strconv.FormatInt(a.UID, 10)).Err())

	_, err := tl.GetPrivate(FetchOptions{}).Collect(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrNotFound))
}

func TestReadWatermark(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()
	tl := f.engine.Timeline(user(1))

	_, marked, err := tl.ReadAt(ctx)
	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, tl.MarkAsRead(ctx, time.Time{}))
	at, marked, err := tl.ReadAt(ctx)
	require.NoError(t, err)
	require.True(t, marked)
	assert.WithinDuration(t, time.Now(), at, 2*time.Second)

	explicit := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tl.MarkAsRead(ctx, explicit))
	at, marked, err = tl.ReadAt(ctx)
	require.NoError(t, err)
	require.True(t, marked)
	assert.WithinDuration(t, explicit, at, time.Millisecond)
}

func TestActionWireRoundTrip(t *testing.T) {
	f := setupEngine(t, Hooks{})
	ctx := context.Background()

	a := NewAction(user(1), "comment", time.Now()).WithTarget(project(1))
	a.Extra = map[string]string{"body": "nice one"}
	require.NoError(t, f.engine.Timeline(user(1)).Save(ctx, a))

	items, err := f.engine.Timeline(user(1)).GetPrivate(FetchOptions{}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0].Action
	assert.Equal(t, a.UID, got.UID)
	assert.Equal(t, a.Actor, got.Actor)
	require.NotNil(t, got.Target)
	assert.Equal(t, *a.Target, *got.Target)
	assert.Equal(t, a.Extra, got.Extra)
	assert.WithinDuration(t, a.At, got.At, time.Millisecond)
}
