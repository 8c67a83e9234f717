package voice

import (
	"sync"

	"lavabridge/logger"
	"lavabridge/model"
)

// fragment is the per-guild holding area for the two halves of a voice
// update. It lives only until promotion or until the guild leaves voice.
type fragment struct {
	sessionID string
	channelID string
	hasState  bool

	token     string
	endpoint  string
	hasServer bool
	// serverSession is the voice session that was in effect when the server
	// half arrived. Empty when no session was known yet.
	serverSession string
}

// complete reports whether both halves are present.
func (f *fragment) complete() bool {
	return f.hasState && f.hasServer
}

// emitted remembers the last voice update sent for a guild so that
// re-delivered platform events with identical content don't produce a
// duplicate command.
type emitted struct {
	sessionID string
	token     string
	endpoint  string
}

// Completion is a promoted fragment: the ready-to-send command plus the
// voice channel the bot is in.
type Completion struct {
	Command   model.VoiceUpdate
	ChannelID string
}

// Aggregator merges the independently-arriving voice-state and voice-server
// platform events into complete voice-update commands, one fragment per
// guild. Callers must apply updates for one guild in arrival order; the
// aggregator itself is safe for concurrent use across guilds.
type Aggregator struct {
	mu        sync.Mutex
	fragments map[string]*fragment
	lastSent  map[string]emitted
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		fragments: make(map[string]*fragment),
		lastSent:  make(map[string]emitted),
	}
}

// OnVoiceState applies a voice-state update. An empty channelID means the
// bot left the voice channel: the fragment is cleared and leave is true so
// the caller can tear the player down. Otherwise the session half is stored
// or replaced; a changed session ID discards a previously buffered server
// half as stale. The returned completion is non-nil exactly when the update
// completed the fragment.
func (a *Aggregator) OnVoiceState(guildID, sessionID, channelID string) (done *Completion, leave bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if channelID == "" {
		delete(a.fragments, guildID)
		delete(a.lastSent, guildID)
		return nil, true
	}

	frag := a.fragments[guildID]
	if frag == nil {
		frag = &fragment{}
		a.fragments[guildID] = frag
	}

	if frag.hasServer && frag.serverSession != "" && frag.serverSession != sessionID {
		// The voice session changed under a buffered server half; the
		// token belongs to the old session and must not be sent.
		logger.Debug("discarding stale voice-server half",
			logger.String("guild", guildID))
		frag.token = ""
		frag.endpoint = ""
		frag.hasServer = false
		frag.serverSession = ""
	}

	frag.sessionID = sessionID
	frag.channelID = channelID
	frag.hasState = true

	return a.promote(guildID, frag), false
}

// OnVoiceServer applies a voice-server update, storing or replacing the
// (token, endpoint) half. The returned completion is non-nil exactly when
// the update completed the fragment.
func (a *Aggregator) OnVoiceServer(guildID, token, endpoint string) *Completion {
	a.mu.Lock()
	defer a.mu.Unlock()

	frag := a.fragments[guildID]
	if frag == nil {
		frag = &fragment{}
		a.fragments[guildID] = frag
	}

	frag.token = token
	frag.endpoint = endpoint
	frag.hasServer = true
	if frag.hasState {
		frag.serverSession = frag.sessionID
	} else {
		frag.serverSession = a.lastSent[guildID].sessionID
	}

	return a.promote(guildID, frag)
}

// promote emits the completed command and clears the fragment, so the next
// pair must complete fully before another command issues. Completions
// identical to the previously emitted one are suppressed. Callers must hold
// the mutex.
func (a *Aggregator) promote(guildID string, frag *fragment) *Completion {
	if !frag.complete() {
		return nil
	}

	pair := emitted{
		sessionID: frag.sessionID,
		token:     frag.token,
		endpoint:  frag.endpoint,
	}
	channelID := frag.channelID
	delete(a.fragments, guildID)

	if a.lastSent[guildID] == pair {
		logger.Debug("suppressing duplicate voice update",
			logger.String("guild", guildID))
		return nil
	}
	a.lastSent[guildID] = pair

	return &Completion{
		Command:   model.NewVoiceUpdate(guildID, pair.sessionID, pair.token, pair.endpoint),
		ChannelID: channelID,
	}
}

// Clear drops any pending fragment and emission history for a guild. Used
// when a player is destroyed.
func (a *Aggregator) Clear(guildID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.fragments, guildID)
	delete(a.lastSent, guildID)
}

// Pending reports whether a fragment half is currently buffered for a
// guild.
func (a *Aggregator) Pending(guildID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.fragments[guildID] != nil
}
