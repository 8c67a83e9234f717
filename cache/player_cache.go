package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	playerStateKey = "player:%s:state" // String: Snapshot JSON
	playerStateTTL = 24 * time.Hour
)

// Snapshot is the externally readable now-playing state of one guild,
// refreshed on every authoritative player update.
type Snapshot struct {
	GuildID   string `json:"guildId"`
	ChannelID string `json:"channelId,omitempty"`
	Track     string `json:"track,omitempty"`
	Position  int64  `json:"position"`
	Paused    bool   `json:"paused"`
	Volume    int    `json:"volume"`
	Connected bool   `json:"connected"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PlayerCache mirrors per-guild playback state into redis so other
// processes can read now-playing without talking to the nodes. A nil
// *PlayerCache is a no-op, so the cache can be left unconfigured.
type PlayerCache struct {
	client *redis.Client
}

// NewPlayerCache creates a cache over an established client.
func NewPlayerCache(client *redis.Client) *PlayerCache {
	return &PlayerCache{client: client}
}

// SetSnapshot stores a guild's playback snapshot.
func (c *PlayerCache) SetSnapshot(ctx context.Context, snap *Snapshot) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf(playerStateKey, snap.GuildID)
	return c.client.Set(ctx, key, data, playerStateTTL).Err()
}

// GetSnapshot reads a guild's playback snapshot, nil when absent.
func (c *PlayerCache) GetSnapshot(ctx context.Context, guildID string) (*Snapshot, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	key := fmt.Sprintf(playerStateKey, guildID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Clear removes a guild's snapshot, e.g. when its player is destroyed.
func (c *PlayerCache) Clear(ctx context.Context, guildID string) error {
	if c == nil || c.client == nil {
		return nil
	}

	key := fmt.Sprintf(playerStateKey, guildID)
	return c.client.Del(ctx, key).Err()
}
