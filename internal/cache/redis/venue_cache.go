package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/venuelab/poolrunner/internal/domain"
)

// setIfNewer writes the venue JSON only when the incoming sequence number is
// strictly greater than the stored one, so instances applying updates out of
// order cannot regress shared state.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'seq')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'state', ARGV[2])
return 1
`)

// VenueCache implements domain.VenueStateCache using Redis hashes. Each
// venue is stored at key "venue:{id}" with fields "seq" and "state" (JSON).
type VenueCache struct {
	rdb *redis.Client
}

// NewVenueCache creates a VenueCache backed by the given Client.
func NewVenueCache(c *Client) *VenueCache {
	return &VenueCache{rdb: c.Underlying()}
}

func venueKey(id string) string {
	return "venue:" + id
}

// SetVenue stores the venue state, guarded by its sequence number. Writing
// an older state than the one stored is a silent no-op.
func (vc *VenueCache) SetVenue(ctx context.Context, v domain.Venue) error {
	state, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal venue %s: %w", v.ID, err)
	}
	if err := setIfNewer.Run(ctx, vc.rdb, []string{venueKey(v.ID)}, v.Seq, state).Err(); err != nil {
		return fmt.Errorf("redis: set venue %s: %w", v.ID, err)
	}
	return nil
}

// GetVenue retrieves one venue's state. It returns domain.ErrNotFound when
// the key does not exist.
func (vc *VenueCache) GetVenue(ctx context.Context, id string) (domain.Venue, error) {
	state, err := vc.rdb.HGet(ctx, venueKey(id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return domain.Venue{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Venue{}, fmt.Errorf("redis: get venue %s: %w", id, err)
	}

	var v domain.Venue
	if err := json.Unmarshal([]byte(state), &v); err != nil {
		return domain.Venue{}, fmt.Errorf("redis: unmarshal venue %s: %w", id, err)
	}
	return v, nil
}

// GetVenues retrieves multiple venues using a pipeline. Missing venues are
// silently omitted from the result map.
func (vc *VenueCache) GetVenues(ctx context.Context, ids []string) (map[string]domain.Venue, error) {
	if len(ids) == 0 {
		return map[string]domain.Venue{}, nil
	}

	pipe := vc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGet(ctx, venueKey(id), "state")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get venues pipeline: %w", err)
	}

	result := make(map[string]domain.Venue, len(ids))
	for id, cmd := range cmds {
		state, err := cmd.Result()
		if err != nil {
			continue
		}
		var v domain.Venue
		if err := json.Unmarshal([]byte(state), &v); err != nil {
			continue
		}
		result[id] = v
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.VenueStateCache = (*VenueCache)(nil)
