package liveness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// touchScript stores ARGV[2] under field ARGV[1] only when it is newer than
// the stored value. Instants are unix microseconds, which Lua numbers hold
// exactly.
var touchScript = redis.NewScript(`
	local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]))
	local candidate = tonumber(ARGV[2])
	if current == nil or candidate > current then
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		return 1
	end
	return 0
`)

// RedisStore shares liveness state between backend replicas through Redis.
type RedisStore struct {
	client      redis.UniversalClient
	lastSeenKey string
	pendingKey  string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore keeps its keys under prefix ("fablab:liveness" when empty).
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fablab:liveness"
	}
	return &RedisStore{
		client:      client,
		lastSeenKey: prefix + ":last_seen",
		pendingKey:  prefix + ":pending",
	}
}

func (s *RedisStore) Touch(ctx context.Context, machineID int64, at time.Time) error {
	field := strconv.FormatInt(machineID, 10)
	if err := touchScript.Run(ctx, s.client, []string{s.lastSeenKey}, field, at.UnixMicro()).Err(); err != nil {
		return fmt.Errorf("touch machine %d: %w", machineID, err)
	}
	return nil
}

func (s *RedisStore) LastSeen(ctx context.Context, machineID int64) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.lastSeenKey, strconv.FormatInt(machineID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last seen of machine %d: %w", machineID, err)
	}
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last seen of machine %d: %w", machineID, err)
	}
	return time.UnixMicro(micros).UTC(), true, nil
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[int64]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, s.lastSeenKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read liveness snapshot: %w", err)
	}
	snapshot := make(map[int64]time.Time, len(raw))
	for field, value := range raw {
		machineID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		micros, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		snapshot[machineID] = time.UnixMicro(micros).UTC()
	}
	return snapshot, nil
}

func (s *RedisStore) AddPending(ctx context.Context, machineID int64) error {
	return s.client.SAdd(ctx, s.pendingKey, machineID).Err()
}

func (s *RedisStore) RemovePending(ctx context.Context, machineID int64) error {
	return s.client.SRem(ctx, s.pendingKey, machineID).Err()
}

func (s *RedisStore) Pending(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, s.pendingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending machines: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
