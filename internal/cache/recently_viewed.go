package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"kostfinder/internal/utils"
)

// DefaultRecentLimit caps the recently viewed list.
const DefaultRecentLimit = 10

const recentKeyPrefix = "recent:"

// IRecentlyViewed keeps a short per-device history of opened listings.
type IRecentlyViewed interface {
	Add(ctx context.Context, deviceID string, listingID utils.SixID) ([]utils.SixID, error)
	List(ctx context.Context, deviceID string) ([]utils.SixID, error)
}

// RecentlyViewed stores the history as one comma-joined string per device.
type RecentlyViewed struct {
	rdb   redis.Cmdable
	limit int
}

// NewRecentlyViewed returns a store keeping at most limit ids per device.
func NewRecentlyViewed(rdb redis.Cmdable, limit int) *RecentlyViewed {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &RecentlyViewed{rdb: rdb, limit: limit}
}

func recentKey(deviceID string) string {
	return recentKeyPrefix + deviceID
}

// Add moves listingID to the front of the device's history and returns the new list.
func (r *RecentlyViewed) Add(ctx context.Context, deviceID string, listingID utils.SixID) ([]utils.SixID, error) {
	current, err := r.List(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	updated := PushRecent(current, listingID, r.limit)
	if err := r.rdb.Set(ctx, recentKey(deviceID), JoinIDs(updated), 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to store recently viewed for %s: %w", deviceID, err)
	}
	return updated, nil
}

// List returns the device's history, newest first. A missing key is an empty list.
func (r *RecentlyViewed) List(ctx context.Context, deviceID string) ([]utils.SixID, error) {
	raw, err := r.rdb.Get(ctx, recentKey(deviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []utils.SixID{}, nil
		}
		return nil, fmt.Errorf("failed to read recently viewed for %s: %w", deviceID, err)
	}
	return SplitIDs(raw), nil
}

// PushRecent puts id first, drops its older occurrence and trims to limit.
func PushRecent(list []utils.SixID, id utils.SixID, limit int) []utils.SixID {
	out := make([]utils.SixID, 0, len(list)+1)
	out = append(out, id)
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// JoinIDs renders ids as a comma-separated string.
func JoinIDs(ids []utils.SixID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// SplitIDs parses a comma-separated string. Unparseable entries are skipped.
func SplitIDs(raw string) []utils.SixID {
	out := []utils.SixID{}
	if raw == "" {
		return out
	}
	for _, part := range strings.Split(raw, ",") {
		id, err := utils.ParseSixID(strings.TrimSpace(part))
		if err != nil || id.IsZero() {
			continue
		}
		out = append(out, id)
	}
	return out
}
