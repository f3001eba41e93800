package followstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/calvinalkan/graphcache/internal/graph/core"
)

const (
	followsKeyPrefix  = "graphcache:follows:"  // SET of followed user ids, per follower
	usernameKeyPrefix = "graphcache:username:" // STRING, per user id
)

func followsKey(id core.UserID) string {
	return followsKeyPrefix + strconv.FormatUint(uint64(id), 10)
}

func usernameKey(id core.UserID) string {
	return usernameKeyPrefix + strconv.FormatUint(uint64(id), 10)
}

// Store is the Redis-backed authoritative follow list the spec calls
// "a backing store [that] provides the authoritative follow list on
// demand". It implements core.Loader, so a *Store can be handed directly
// to core.New.
type Store struct {
	client *client
	log    *zap.Logger
}

// New constructs a Store against addr/db, in the same shape as
// redis.NewChannelRepository in the teacher.
func New(addr string, db int, log *zap.Logger) *Store {
	log = log.Named("followstore")
	return &Store{
		log:    log,
		client: newClient(addr, db, log),
	}
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error { return s.client.Close() }

// Follow persists that follower follows followed, adding followed's
// username to the store if not already known. This is how the backing
// store's data is seeded/kept current; it is independent of the
// in-memory cache's own Follow operation, which only mutates already
// tracked slots.
func (s *Store) Follow(ctx context.Context, follower, followed core.UserID, followedUsername string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, followsKey(follower), uint64(followed))
	pipe.SetNX(ctx, usernameKey(followed), followedUsername, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	return nil
}

// Unfollow removes followed from follower's authoritative follow set.
func (s *Store) Unfollow(ctx context.Context, follower, followed core.UserID) error {
	if err := s.client.SRem(ctx, followsKey(follower), uint64(followed)).Err(); err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	return nil
}

// Load implements core.Loader: it fetches follower's full follow set and
// resolves each followed id's username, returning the records the cache
// merges into its slot table.
func (s *Store) Load(ctx context.Context, follower core.UserID) ([]core.FollowedUser, error) {
	ids, err := s.client.SMembers(ctx, followsKey(follower)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("smembers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	parsed := make([]core.UserID, 0, len(ids))
	for _, idStr := range ids {
		id, parseErr := strconv.ParseUint(idStr, 10, 64)
		if parseErr != nil {
			s.log.Warn("malformed follow set member, skipping", zap.String("value", idStr))
			continue
		}
		parsed = append(parsed, core.UserID(id))
		keys = append(keys, usernameKey(core.UserID(id)))
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget usernames: %w", err)
	}

	out := make([]core.FollowedUser, 0, len(parsed))
	for i, v := range vals {
		username, ok := v.(string)
		if !ok || username == "" {
			continue
		}
		out = append(out, core.FollowedUser{ID: parsed[i], Username: username})
	}
	return out, nil
}
