package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialgraph/internal/graph"
	"github.com/d60-Lab/socialgraph/internal/registry"
)

func setupBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	b, err := New(db)
	require.NoError(t, err)
	return b
}

func userRef(id int64) registry.Ref {
	return registry.Ref{Identifier: "user", ObjectID: id}
}

func projectRef(id int64) registry.Ref {
	return registry.Ref{Identifier: "project", ObjectID: id}
}

func TestFollowIdempotent(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	created, err := b.Follow(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.Follow(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)
	assert.False(t, created)

	count, err := b.FollowingsCount(ctx, userRef(1), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFollowSymmetry(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	_, err := b.Follow(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)

	followers, err := b.GetFollowers(projectRef(1), graph.ListOptions{}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, userRef(1), followers[0].Ref)

	followings, err := b.GetFollowings(userRef(1), graph.ListOptions{}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, followings, 1)
	assert.Equal(t, projectRef(1), followings[0].Ref)

	followersCount, err := b.FollowersCount(ctx, projectRef(1), "")
	require.NoError(t, err)
	assert.Equal(t, int64(len(followers)), followersCount)

	followingsCount, err := b.FollowingsCount(ctx, userRef(1), "")
	require.NoError(t, err)
	assert.Equal(t, int64(len(followings)), followingsCount)

	following, err := b.IsFollowing(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)
	assert.True(t, following)
}

func TestUnfollow(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	_, err := b.Follow(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)

	affected, err := b.Unfollow(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	following, err := b.IsFollowing(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)
	assert.False(t, following)

	count, err := b.FollowingsCount(ctx, userRef(1), "")
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = b.FollowersCount(ctx, projectRef(1), "")
	require.NoError(t, err)
	assert.Zero(t, count)

	// no-op on a missing edge
	affected, err = b.Unfollow(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestIdentifierFilter(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	_, err := b.Follow(ctx, userRef(1), projectRef(1))
	require.NoError(t, err)
	_, err = b.Follow(ctx, userRef(1), userRef(2))
	require.NoError(t, err)

	total, err := b.FollowingsCount(ctx, userRef(1), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	scoped, err := b.FollowingsCount(ctx, userRef(1), "project")
	require.NoError(t, err)
	assert.Equal(t, int64(1), scoped)

	edges, err := b.GetFollowings(userRef(1), graph.ListOptions{Identifier: "project"}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, projectRef(1), edges[0].Ref)
}

func TestFollowerOrdering(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		_, err := b.Follow(ctx, userRef(id), projectRef(1))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	desc, err := b.GetFollowers(projectRef(1), graph.ListOptions{PageSize: 2}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, userRef(3), desc[0].Ref)
	assert.Equal(t, userRef(1), desc[2].Ref)

	asc, err := b.GetFollowers(projectRef(1), graph.ListOptions{Asc: true, PageSize: 2}).Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, userRef(1), asc[0].Ref)
}

func TestFriendIDs(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	_, err := b.Follow(ctx, userRef(1), userRef(2))
	require.NoError(t, err)

	friends, err := b.FriendIDs(ctx, userRef(1), "")
	require.NoError(t, err)
	assert.Empty(t, friends)

	time.Sleep(2 * time.Millisecond)
	_, err = b.Follow(ctx, userRef(2), userRef(1))
	require.NoError(t, err)

	friends, err = b.FriendIDs(ctx, userRef(1), "")
	require.NoError(t, err)
	require.Len(t, friends["user"], 1)
	assert.Equal(t, int64(2), friends["user"][0].ObjectID)

	// friendship starts with the reciprocating follow
	var reciprocal Follow
	require.NoError(t, b.db.
		Where("from_identifier = ? AND from_object_id = ?", "user", int64(2)).
		First(&reciprocal).Error)
	assert.WithinDuration(t, reciprocal.CreatedAt, friends["user"][0].Since, time.Millisecond)

	// symmetric for the other side
	friends, err = b.FriendIDs(ctx, userRef(2), "")
	require.NoError(t, err)
	require.Len(t, friends["user"], 1)
	assert.Equal(t, int64(1), friends["user"][0].ObjectID)
}
