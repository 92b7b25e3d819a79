// Package redisb stores the follow graph in redis sorted sets keyed by
// uid, with explicit count registers kept in step inside one pipeline.
package redisb

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

type Backend struct {
	client  *redis.Client
	manager *uid.Manager
	prefix  string
}

func New(client *redis.Client, manager *uid.Manager) (*Backend, error) {
	if client == nil || manager == nil {
		return nil, graph.ErrNotConfigured
	}
	return &Backend{client: client, manager: manager, prefix: manager.Prefix()}, nil
}

func (b *Backend) key(segments ...string) string {
	return strings.Join(append([]string{b.prefix}, segments...), ":")
}

// followersKey is <prefix>:uid:<uid>:followers[:<identifier>]; the
// identifier-scoped sibling restricts the set to one entity type.
func (b *Backend) followersKey(id int64, identifier string) string {
	segments := []string{"uid", strconv.FormatInt(id, 10), "followers"}
	if identifier != "" {
		segments = append(segments, identifier)
	}
	return b.key(segments...)
}

func (b *Backend) followingsKey(id int64, identifier string) string {
	segments := []string{"uid", strconv.FormatInt(id, 10), "followings"}
	if identifier != "" {
		segments = append(segments, identifier)
	}
	return b.key(segments...)
}

func countKey(key string) string { return key + ":count" }

// The edge scripts condition every counter increment on the ZADD/ZREM
// outcome of the base followings key, so concurrent duplicate calls
// cannot drift the count registers away from the set cardinality.
// KEYS[1..4] are the four index zsets, KEYS[5..8] their count registers.
var followScript = redis.NewScript(`
if redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], 'NX', ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], 'NX', ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[4], 'NX', ARGV[1], ARGV[3])
for i = 5, 8 do
	redis.call('INCR', KEYS[i])
end
return 1
`)

var unfollowScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[2])
for i = 5, 8 do
	redis.call('DECR', KEYS[i])
end
return 1
`)

// edgeKeys lists the zsets an edge lives in followed by their count
// registers, in the order the scripts expect.
func (b *Backend) edgeKeys(fromUID, toUID int64, from, to registry.Ref) []string {
	indices := []string{
		b.followingsKey(fromUID, ""),
		b.followingsKey(fromUID, to.Identifier),
		b.followersKey(toUID, ""),
		b.followersKey(toUID, from.Identifier),
	}
	keys := make([]string, 0, 2*len(indices))
	keys = append(keys, indices...)
	for _, key := range indices {
		keys = append(keys, countKey(key))
	}
	return keys
}

func toScore(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromScore(score float64) time.Time {
	return time.Unix(0, int64(score*float64(time.Second)))
}

func (b *Backend) Follow(ctx context.Context, from, to registry.Ref) (bool, error) {
	fromUID, err := b.manager.MakeUID(ctx, from)
	if err != nil {
		return false, wrap(err)
	}
	toUID, err := b.manager.MakeUID(ctx, to)
	if err != nil {
		return false, wrap(err)
	}

	score := toScore(time.Now())
	fromMember := strconv.FormatInt(fromUID, 10)
	toMember := strconv.FormatInt(toUID, 10)

	added, err := followScript.Run(ctx, b.client,
		b.edgeKeys(fromUID, toUID, from, to),
		score, toMember, fromMember).Int64()
	if err != nil {
		return false, wrap(err)
	}
	return added == 1, nil
}

func (b *Backend) Unfollow(ctx context.Context, from, to registry.Ref) (int64, error) {
	fromUID, err := b.manager.GetUID(ctx, from)
	if err != nil {
		return 0, wrap(err)
	}
	toUID, err := b.manager.GetUID(ctx, to)
	if err != nil {
		return 0, wrap(err)
	}
	if fromUID == 0 || toUID == 0 {
		return 0, nil
	}

	fromMember := strconv.FormatInt(fromUID, 10)
	toMember := strconv.FormatInt(toUID, 10)

	removed, err := unfollowScript.Run(ctx, b.client,
		b.edgeKeys(fromUID, toUID, from, to),
		toMember, fromMember).Int64()
	if err != nil {
		return 0, wrap(err)
	}
	return removed, nil
}

func (b *Backend) edgeExists(ctx context.Context, fromUID, toUID int64) (bool, error) {
	err := b.client.ZScore(ctx, b.followingsKey(fromUID, ""), strconv.FormatInt(toUID, 10)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return true, nil
}

func (b *Backend) IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error) {
	fromUID, err := b.manager.GetUID(ctx, from)
	if err != nil {
		return false, wrap(err)
	}
	toUID, err := b.manager.GetUID(ctx, to)
	if err != nil {
		return false, wrap(err)
	}
	if fromUID == 0 || toUID == 0 {
		return false, nil
	}
	return b.edgeExists(ctx, fromUID, toUID)
}

func (b *Backend) GetFollowers(to registry.Ref, opts graph.ListOptions) *graph.Iter {
	return graph.NewIter(func(ctx context.Context, offset, limit int) ([]graph.Edge, error) {
		id, err := b.manager.GetUID(ctx, to)
		if err != nil || id == 0 {
			return nil, wrap(err)
		}
		return b.page(ctx, b.followersKey(id, opts.Identifier), opts.Asc, offset, limit)
	}, opts)
}

func (b *Backend) GetFollowings(from registry.Ref, opts graph.ListOptions) *graph.Iter {
	return graph.NewIter(func(ctx context.Context, offset, limit int) ([]graph.Edge, error) {
		id, err := b.manager.GetUID(ctx, from)
		if err != nil || id == 0 {
			return nil, wrap(err)
		}
		return b.page(ctx, b.followingsKey(id, opts.Identifier), opts.Asc, offset, limit)
	}, opts)
}

func (b *Backend) page(ctx context.Context, key string, asc bool, offset, limit int) ([]graph.Edge, error) {
	var (
		zs  []redis.Z
		err error
	)
	stop := int64(offset + limit - 1)
	if asc {
		zs, err = b.client.ZRangeWithScores(ctx, key, int64(offset), stop).Result()
	} else {
		zs, err = b.client.ZRevRangeWithScores(ctx, key, int64(offset), stop).Result()
	}
	if err != nil {
		return nil, wrap(err)
	}

	edges := make([]graph.Edge, 0, len(zs))
	for _, z := range zs {
		member, ref, err := b.resolveMember(ctx, z.Member)
		if err != nil {
			return nil, err
		}
		if !member {
			continue
		}
		edges = append(edges, graph.Edge{Ref: ref, At: fromScore(z.Score)})
	}
	return edges, nil
}

func (b *Backend) resolveMember(ctx context.Context, member interface{}) (bool, registry.Ref, error) {
	id, err := strconv.ParseInt(fmt.Sprint(member), 10, 64)
	if err != nil {
		return false, registry.Ref{}, fmt.Errorf("redisb: malformed member %v: %w", member, err)
	}
	ref, ok, err := b.manager.RefFromUID(ctx, id)
	if err != nil {
		return false, registry.Ref{}, wrap(err)
	}
	return ok, ref, nil
}

func (b *Backend) FollowersCount(ctx context.Context, to registry.Ref, identifier string) (int64, error) {
	id, err := b.manager.GetUID(ctx, to)
	if err != nil || id == 0 {
		return 0, wrap(err)
	}
	return b.count(ctx, b.followersKey(id, identifier))
}

func (b *Backend) FollowingsCount(ctx context.Context, from registry.Ref, identifier string) (int64, error) {
	id, err := b.manager.GetUID(ctx, from)
	if err != nil || id == 0 {
		return 0, wrap(err)
	}
	return b.count(ctx, b.followingsKey(id, identifier))
}

func (b *Backend) count(ctx context.Context, key string) (int64, error) {
	val, err := b.client.Get(ctx, countKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap(err)
	}
	return strconv.ParseInt(val, 10, 64)
}

// FriendIDs intersects the followings and followers sets. Since is the
// later of the two edge scores.
func (b *Backend) FriendIDs(ctx context.Context, ref registry.Ref, identifier string) (map[string][]graph.Friend, error) {
	id, err := b.manager.GetUID(ctx, ref)
	if err != nil {
		return nil, wrap(err)
	}
	friends := make(map[string][]graph.Friend)
	if id == 0 {
		return friends, nil
	}

	followings, err := b.client.ZRangeWithScores(ctx, b.followingsKey(id, ""), 0, -1).Result()
	if err != nil {
		return nil, wrap(err)
	}
	followedAt := make(map[string]float64, len(followings))
	for _, z := range followings {
		followedAt[fmt.Sprint(z.Member)] = z.Score
	}

	followers, err := b.client.ZRangeWithScores(ctx, b.followersKey(id, ""), 0, -1).Result()
	if err != nil {
		return nil, wrap(err)
	}

	for _, z := range followers {
		member := fmt.Sprint(z.Member)
		outScore, ok := followedAt[member]
		if !ok {
			continue
		}
		found, peer, err := b.resolveMember(ctx, member)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if identifier != "" && peer.Identifier != identifier {
			continue
		}
		since := z.Score
		if outScore > since {
			since = outScore
		}
		friends[peer.Identifier] = append(friends[peer.Identifier], graph.Friend{
			ObjectID: peer.ObjectID,
			Since:    fromScore(since),
		})
	}
	return friends, nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", graph.ErrStorageUnavailable, err)
}
