package player

import (
	"sync"

	"lavabridge/model"
)

// DefaultVolume is the node-side default volume.
const DefaultVolume = 100

// Player mirrors the node-reported playback state of one guild. It is
// owned by the Manager: callers get Snapshot read views and issue commands,
// never direct mutation handles. The mutex doubles as the guild's
// sequencer: it is held across the full command path (validate, send,
// state update) so everything affecting one guild serializes, while other
// guilds proceed in parallel.
type Player struct {
	guildID string

	mu        sync.Mutex
	channelID string
	track     string
	position  int64
	updatedAt int64 // node timestamp of the last authoritative update
	paused    bool
	volume    int
	filters   []model.EqualizerBand
	connected bool
	ping      int64
	nodeAddr  string
	degraded  bool
	orphaned  bool
}

func newPlayer(guildID string) *Player {
	return &Player{
		guildID: guildID,
		volume:  DefaultVolume,
		ping:    -1,
	}
}

// Snapshot is a point-in-time read view of a player.
type Snapshot struct {
	GuildID   string
	ChannelID string
	// Track is the encoded track last reported playing, empty when idle.
	Track string
	// Position and UpdatedAt come from the node's playerUpdate frames and
	// are authoritative; optimistic fields (Paused, Volume, Filters)
	// reflect the last accepted command until the node says otherwise.
	Position  int64
	UpdatedAt int64
	Paused    bool
	Volume    int
	Filters   []model.EqualizerBand
	Connected bool
	Ping      int64
	// NodeAddress is the owning node.
	NodeAddress string
	// Degraded means the owning node is mid-reconnect; commands still
	// queue. Orphaned means the owning node is gone; commands are
	// rejected until the player is recreated.
	Degraded bool
	Orphaned bool
}

// snapshotLocked builds a read view. Callers must hold the mutex.
func (p *Player) snapshotLocked() Snapshot {
	filters := make([]model.EqualizerBand, len(p.filters))
	copy(filters, p.filters)

	return Snapshot{
		GuildID:     p.guildID,
		ChannelID:   p.channelID,
		Track:       p.track,
		Position:    p.position,
		UpdatedAt:   p.updatedAt,
		Paused:      p.paused,
		Volume:      p.volume,
		Filters:     filters,
		Connected:   p.connected,
		Ping:        p.ping,
		NodeAddress: p.nodeAddr,
		Degraded:    p.degraded,
		Orphaned:    p.orphaned,
	}
}
