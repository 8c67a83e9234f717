package player

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"lavabridge/cache"
	"lavabridge/core/node"
	"lavabridge/core/voice"
	"lavabridge/logger"
	"lavabridge/model"
)

var (
	// ErrNoPlayer is returned for commands against a guild that has no
	// active player and is not auto-created by the command.
	ErrNoPlayer = errors.New("no player for guild")

	// ErrNodeUnavailable is returned for commands against an orphaned
	// player whose node was removed or failed. The caller must destroy
	// and recreate the player; there is no automatic migration.
	ErrNodeUnavailable = errors.New("player's node is unavailable")
)

// Router resolves guilds to node connections. *node.Registry implements
// it.
type Router interface {
	Route(guildID string) (node.Handle, error)
	Lookup(guildID string) (node.Handle, bool)
	Release(guildID string)
}

const eventBuffer = 256

// Manager owns every guild's player: it validates and dispatches commands
// through the Router, mirrors node-reported state, and surfaces player
// events to subscribers. All mutation of player state goes through the
// Manager.
type Manager struct {
	router Router
	agg    *voice.Aggregator
	cache  *cache.PlayerCache // nil disables snapshots

	events chan model.PlayerEvent

	mu      sync.Mutex
	players map[string]*Player
}

// NewManager creates a manager. agg may not be nil; pcache may be nil.
func NewManager(router Router, agg *voice.Aggregator, pcache *cache.PlayerCache) *Manager {
	return &Manager{
		router:  router,
		agg:     agg,
		cache:   pcache,
		events:  make(chan model.PlayerEvent, eventBuffer),
		players: make(map[string]*Player),
	}
}

// Events exposes player events (track start/end/exception/stuck, voice
// websocket closes) in arrival order. Slow consumers lose events rather
// than stalling node dispatch.
func (m *Manager) Events() <-chan model.PlayerEvent {
	return m.events
}

// CloseEvents closes the event stream. Call only after node dispatch has
// stopped.
func (m *Manager) CloseEvents() {
	close(m.events)
}

// get returns an existing player or ErrNoPlayer.
func (m *Manager) get(guildID string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[guildID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPlayer, guildID)
	}
	return p, nil
}

// getOrCreate returns the guild's player, creating it on first use.
func (m *Manager) getOrCreate(guildID string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[guildID]; ok {
		return p
	}
	p := newPlayer(guildID)
	m.players[guildID] = p
	return p
}

// Snapshot returns a read view of a guild's player.
func (m *Manager) Snapshot(guildID string) (Snapshot, error) {
	p, err := m.get(guildID)
	if err != nil {
		return Snapshot{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(), nil
}

// Snapshots returns read views of every player, ordered by guild.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	players := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(players))
	for _, p := range players {
		p.mu.Lock()
		snaps = append(snaps, p.snapshotLocked())
		p.mu.Unlock()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].GuildID < snaps[j].GuildID })
	return snaps
}

// dispatch routes and sends one command while holding the player's
// sequencer lock (already held by the caller).
func (m *Manager) dispatch(ctx context.Context, p *Player, cmd model.OutgoingCommand) error {
	if p.orphaned {
		return fmt.Errorf("%w: guild %s", ErrNodeUnavailable, p.guildID)
	}

	h, err := m.router.Route(p.guildID)
	if err != nil {
		if errors.Is(err, node.ErrNoNodes) {
			return fmt.Errorf("%w: %v", ErrNodeUnavailable, err)
		}
		return err
	}

	if err := h.Send(ctx, cmd); err != nil {
		return err
	}
	p.nodeAddr = h.Address()
	return nil
}

// ApplyVoiceUpdate sends a completed voice update for a guild, creating
// the player if this is the guild's first contact.
func (m *Manager) ApplyVoiceUpdate(ctx context.Context, done voice.Completion) error {
	p := m.getOrCreate(done.Command.GuildID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := m.dispatch(ctx, p, done.Command); err != nil {
		return err
	}
	p.channelID = done.ChannelID
	return nil
}

// PlayOptions are the optional parts of a play command.
type PlayOptions struct {
	// StartTime and EndTime are track positions in milliseconds; zero
	// means unset.
	StartTime int64
	EndTime   int64
	// NoReplace keeps the current track if one is playing.
	NoReplace bool
}

// Play starts playback of an encoded track, creating the player if the
// guild has none yet.
func (m *Manager) Play(ctx context.Context, guildID, track string, opts PlayOptions) error {
	p := m.getOrCreate(guildID)

	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := model.NewPlay(guildID, track, opts.StartTime, opts.EndTime, opts.NoReplace)
	if err := m.dispatch(ctx, p, cmd); err != nil {
		return err
	}
	// The playing track itself stays node-authoritative: it is recorded
	// when the node reports TrackStartEvent, not here.
	p.paused = false
	return nil
}

// Pause pauses (true) or resumes (false) playback.
func (m *Manager) Pause(ctx context.Context, guildID string, pause bool) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := m.dispatch(ctx, p, model.NewPause(guildID, pause)); err != nil {
		return err
	}
	p.paused = pause
	return nil
}

// Stop stops the playing track without destroying the player.
func (m *Manager) Stop(ctx context.Context, guildID string) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return m.dispatch(ctx, p, model.NewStop(guildID))
}

// Seek moves the playing track to a position in milliseconds. The cached
// position is not touched; the next playerUpdate is authoritative.
func (m *Manager) Seek(ctx context.Context, guildID string, position int64) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return m.dispatch(ctx, p, model.NewSeek(guildID, position))
}

// SetVolume sets the player volume, clamped to 0-1000.
func (m *Manager) SetVolume(ctx context.Context, guildID string, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1000 {
		volume = 1000
	}

	p, err := m.get(guildID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := m.dispatch(ctx, p, model.NewVolume(guildID, volume)); err != nil {
		return err
	}
	p.volume = volume
	return nil
}

// SetFilters replaces the player's equalizer bands.
func (m *Manager) SetFilters(ctx context.Context, guildID string, bands []model.EqualizerBand) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := m.dispatch(ctx, p, model.NewFilters(guildID, bands)); err != nil {
		return err
	}
	p.filters = make([]model.EqualizerBand, len(bands))
	copy(p.filters, bands)
	return nil
}

// Destroy removes the player, telling its node best-effort, and clears the
// guild's pending voice fragment, routing slot, and cached snapshot.
func (m *Manager) Destroy(ctx context.Context, guildID string) error {
	m.mu.Lock()
	p, ok := m.players[guildID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPlayer, guildID)
	}
	delete(m.players, guildID)
	m.mu.Unlock()

	m.teardown(ctx, p, guildID)
	return nil
}

// Disconnect tears a player down after the guild left voice. Unlike
// Destroy it is not an error if no player exists.
func (m *Manager) Disconnect(ctx context.Context, guildID string) {
	m.mu.Lock()
	p, ok := m.players[guildID]
	if ok {
		delete(m.players, guildID)
	}
	m.mu.Unlock()

	if ok {
		m.teardown(ctx, p, guildID)
	}
}

func (m *Manager) teardown(ctx context.Context, p *Player, guildID string) {
	p.mu.Lock()
	orphaned := p.orphaned
	p.mu.Unlock()

	// Best-effort: an unreachable node will clean the player up itself
	// when the session dies.
	if !orphaned {
		if h, ok := m.router.Lookup(guildID); ok {
			if err := h.Send(ctx, model.NewDestroy(guildID)); err != nil {
				logger.Warn("destroy command not delivered",
					logger.String("guild", guildID),
					logger.ErrorField(err))
			}
		}
	}

	m.router.Release(guildID)
	m.agg.Clear(guildID)

	if err := m.cache.Clear(ctx, guildID); err != nil {
		logger.Warn("snapshot cache clear failed",
			logger.String("guild", guildID),
			logger.ErrorField(err))
	}
}

// HandleMessage applies one incoming node message. PlayerUpdate frames
// overwrite the authoritative fields last-writer-wins; player events adjust
// track state and are forwarded to subscribers. Called from node dispatch
// in arrival order.
func (m *Manager) HandleMessage(nodeAddr string, msg model.IncomingMessage) {
	switch msg := msg.(type) {
	case model.PlayerUpdate:
		m.applyPlayerUpdate(nodeAddr, msg)
	case model.PlayerEvent:
		m.applyPlayerEvent(msg)
		m.forward(msg)
	}
}

func (m *Manager) applyPlayerUpdate(nodeAddr string, upd model.PlayerUpdate) {
	m.mu.Lock()
	p, ok := m.players[upd.GuildID]
	m.mu.Unlock()
	if !ok {
		logger.Debug("player update for unknown guild",
			logger.String("guild", upd.GuildID),
			logger.String("node", nodeAddr))
		return
	}

	p.mu.Lock()
	p.position = upd.State.Position
	p.updatedAt = upd.State.Time
	p.connected = upd.State.Connected
	p.ping = upd.State.Ping
	snap := p.snapshotLocked()
	p.mu.Unlock()

	m.writeSnapshot(snap)
}

func (m *Manager) applyPlayerEvent(ev model.PlayerEvent) {
	m.mu.Lock()
	p, ok := m.players[ev.Guild()]
	m.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := ev.(type) {
	case model.TrackStart:
		p.track = ev.Track
	case model.TrackEnd:
		// On a replace the TrackStartEvent of the successor follows
		// immediately; clearing in between is still correct.
		p.track = ""
	case model.WebSocketClosed:
		p.connected = false
	}
}

// forward delivers an event to subscribers without blocking node dispatch.
func (m *Manager) forward(ev model.PlayerEvent) {
	select {
	case m.events <- ev:
	default:
		logger.Warn("event subscriber too slow, dropping event",
			logger.String("guild", ev.Guild()),
			logger.String("type", ev.EventType()))
	}
}

// writeSnapshot mirrors state into the optional cache.
func (m *Manager) writeSnapshot(snap Snapshot) {
	if m.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.cache.SetSnapshot(ctx, &cache.Snapshot{
		GuildID:   snap.GuildID,
		ChannelID: snap.ChannelID,
		Track:     snap.Track,
		Position:  snap.Position,
		Paused:    snap.Paused,
		Volume:    snap.Volume,
		Connected: snap.Connected,
		UpdatedAt: snap.UpdatedAt,
	})
	if err != nil {
		logger.Warn("snapshot cache write failed",
			logger.String("guild", snap.GuildID),
			logger.ErrorField(err))
	}
}

// NodeStateChanged marks the players on a node degraded while it
// reconnects and clears the mark when it comes back. Terminal failures
// arrive via OrphanNode instead.
func (m *Manager) NodeStateChanged(nodeAddr string, s node.State) {
	var degraded bool
	switch s {
	case node.StateReconnecting:
		degraded = true
	case node.StateReady:
		degraded = false
	default:
		return
	}

	for _, p := range m.playersOn(nodeAddr) {
		p.mu.Lock()
		p.degraded = degraded
		p.mu.Unlock()
	}
}

// OrphanNode marks every listed player orphaned after its node was removed
// or failed. The players stay queryable but reject commands until the
// caller destroys and recreates them.
func (m *Manager) OrphanNode(nodeAddr string, guilds []string) {
	m.mu.Lock()
	players := make([]*Player, 0, len(guilds))
	for _, g := range guilds {
		if p, ok := m.players[g]; ok {
			players = append(players, p)
		}
	}
	m.mu.Unlock()

	for _, p := range players {
		p.mu.Lock()
		p.orphaned = true
		p.degraded = false
		p.mu.Unlock()
	}

	if len(guilds) > 0 {
		logger.Warn("players orphaned",
			logger.String("node", nodeAddr),
			logger.Int("count", len(guilds)))
	}
}

// playersOn snapshots the players owned by one node.
func (m *Manager) playersOn(nodeAddr string) []*Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Player
	for _, p := range m.players {
		p.mu.Lock()
		owned := p.nodeAddr == nodeAddr
		p.mu.Unlock()
		if owned {
			out = append(out, p)
		}
	}
	return out
}
