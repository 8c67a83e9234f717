package model

import (
	"encoding/json"
	"fmt"
)

// Opcodes for messages a node sends to clients.
const (
	OpReady        = "ready"
	OpPlayerUpdate = "playerUpdate"
	OpStats        = "stats"
	OpEvent        = "event"
)

// Event type tags nested inside "event" frames.
const (
	EventTrackStart      = "TrackStartEvent"
	EventTrackEnd        = "TrackEndEvent"
	EventTrackException  = "TrackExceptionEvent"
	EventTrackStuck      = "TrackStuckEvent"
	EventWebSocketClosed = "WebSocketClosedEvent"
)

// Track end reasons reported by TrackEndEvent.
const (
	TrackEndFinished   = "finished"
	TrackEndLoadFailed = "loadFailed"
	TrackEndStopped    = "stopped"
	TrackEndReplaced   = "replaced"
	TrackEndCleanup    = "cleanup"
)

// IncomingMessage is implemented by every message a node can deliver.
// Messages are consumed exactly once, in arrival order, per node.
type IncomingMessage interface {
	// Opcode returns the wire operation tag.
	Opcode() string
}

// Ready is sent by the node after a successful handshake.
type Ready struct {
	Op        string `json:"op"`
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

// PlayerState is the node-authoritative playback state of one player.
type PlayerState struct {
	// Time is the node's unix timestamp in milliseconds.
	Time int64 `json:"time"`
	// Position is the track position in milliseconds.
	Position int64 `json:"position"`
	// Connected reports whether the node holds a voice gateway connection.
	Connected bool `json:"connected"`
	// Ping is the node's voice gateway ping in milliseconds, -1 when
	// disconnected.
	Ping int64 `json:"ping"`
}

// PlayerUpdate carries the authoritative state of a guild's player.
type PlayerUpdate struct {
	Op      string      `json:"op"`
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
}

// StatsCPU describes CPU load of a node's host.
type StatsCPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// StatsMemory describes memory usage of a node's host.
type StatsMemory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// StatsFrames describes audio frame statistics over the last minute.
type StatsFrames struct {
	Sent    int64 `json:"sent"`
	Nulled  int64 `json:"nulled"`
	Deficit int64 `json:"deficit"`
}

// Stats is a periodic report of node health.
type Stats struct {
	Op             string       `json:"op"`
	Players        int          `json:"players"`
	PlayingPlayers int          `json:"playingPlayers"`
	Uptime         int64        `json:"uptime"`
	Memory         StatsMemory  `json:"memory"`
	CPU            StatsCPU     `json:"cpu"`
	Frames         *StatsFrames `json:"frameStats,omitempty"`
}

// TrackStart signals that a track started playing.
type TrackStart struct {
	Op      string `json:"op"`
	Type    string `json:"type"`
	GuildID string `json:"guildId"`
	Track   string `json:"track"`
}

// TrackEnd signals that a track stopped playing.
type TrackEnd struct {
	Op      string `json:"op"`
	Type    string `json:"type"`
	GuildID string `json:"guildId"`
	Track   string `json:"track"`
	// Reason is one of the TrackEnd* constants.
	Reason string `json:"reason"`
}

// TrackException signals that a track threw an exception on the node.
type TrackException struct {
	Op        string     `json:"op"`
	Type      string     `json:"type"`
	GuildID   string     `json:"guildId"`
	Track     string     `json:"track"`
	Error     string     `json:"error,omitempty"`
	Exception *Exception `json:"exception,omitempty"`
}

// TrackStuck signals that a track stopped making progress.
type TrackStuck struct {
	Op          string `json:"op"`
	Type        string `json:"type"`
	GuildID     string `json:"guildId"`
	Track       string `json:"track"`
	ThresholdMs int64  `json:"thresholdMs"`
}

// WebSocketClosed signals that the node's voice gateway connection for a
// guild was closed.
type WebSocketClosed struct {
	Op       string `json:"op"`
	Type     string `json:"type"`
	GuildID  string `json:"guildId"`
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

func (m Ready) Opcode() string           { return OpReady }
func (m PlayerUpdate) Opcode() string    { return OpPlayerUpdate }
func (m Stats) Opcode() string           { return OpStats }
func (m TrackStart) Opcode() string      { return OpEvent }
func (m TrackEnd) Opcode() string        { return OpEvent }
func (m TrackException) Opcode() string  { return OpEvent }
func (m TrackStuck) Opcode() string      { return OpEvent }
func (m WebSocketClosed) Opcode() string { return OpEvent }

// PlayerEvent is implemented by the event-frame messages that target a
// single guild's player.
type PlayerEvent interface {
	IncomingMessage
	EventType() string
	Guild() string
}

func (m TrackStart) EventType() string      { return EventTrackStart }
func (m TrackEnd) EventType() string        { return EventTrackEnd }
func (m TrackException) EventType() string  { return EventTrackException }
func (m TrackStuck) EventType() string      { return EventTrackStuck }
func (m WebSocketClosed) EventType() string { return EventWebSocketClosed }

func (m TrackStart) Guild() string      { return m.GuildID }
func (m TrackEnd) Guild() string        { return m.GuildID }
func (m TrackException) Guild() string  { return m.GuildID }
func (m TrackStuck) Guild() string      { return m.GuildID }
func (m WebSocketClosed) Guild() string { return m.GuildID }

// frameProbe peeks at a frame's tags before the full decode.
type frameProbe struct {
	Op   string `json:"op"`
	Type string `json:"type"`
}

// ParseMessage decodes one raw frame from a node into its concrete message
// type. Frames with an unknown op or event type return an error so the
// connection can log and drop them without dying.
func ParseMessage(data []byte) (IncomingMessage, error) {
	var probe frameProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch probe.Op {
	case OpReady:
		var m Ready
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode ready: %w", err)
		}
		return m, nil
	case OpPlayerUpdate:
		var m PlayerUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode playerUpdate: %w", err)
		}
		return m, nil
	case OpStats:
		var m Stats
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		return m, nil
	case OpEvent:
		return parseEvent(probe.Type, data)
	default:
		return nil, fmt.Errorf("unknown op %q", probe.Op)
	}
}

func parseEvent(eventType string, data []byte) (IncomingMessage, error) {
	switch eventType {
	case EventTrackStart:
		var m TrackStart
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return m, nil
	case EventTrackEnd:
		var m TrackEnd
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return m, nil
	case EventTrackException:
		var m TrackException
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return m, nil
	case EventTrackStuck:
		var m TrackStuck
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return m, nil
	case EventWebSocketClosed:
		var m WebSocketClosed
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}
