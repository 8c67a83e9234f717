package model

// Opcodes for commands sent to a node. The set is fixed by the node's wire
// protocol; every command carries its opcode in the "op" field.
const (
	OpVoiceUpdate = "voiceUpdate"
	OpPlay        = "play"
	OpPause       = "pause"
	OpStop        = "stop"
	OpSeek        = "seek"
	OpVolume      = "volume"
	OpFilters     = "filters"
	OpDestroy     = "destroy"
)

// OutgoingCommand is implemented by every command that can be sent to a
// node. Commands are immutable once constructed; per-guild submission order
// must be preserved all the way to the socket.
type OutgoingCommand interface {
	// Opcode returns the wire operation tag.
	Opcode() string
	// Guild returns the guild the command applies to.
	Guild() string
}

// VoiceServer carries the platform voice credentials forwarded to a node.
type VoiceServer struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}

// VoiceUpdate is the combined voice-state/voice-server command that lets a
// node join a voice channel.
type VoiceUpdate struct {
	Op        string      `json:"op"`
	GuildID   string      `json:"guildId"`
	SessionID string      `json:"sessionId"`
	Event     VoiceServer `json:"event"`
}

// NewVoiceUpdate builds a voiceUpdate command from a completed pair of
// platform events.
func NewVoiceUpdate(guildID, sessionID, token, endpoint string) VoiceUpdate {
	return VoiceUpdate{
		Op:        OpVoiceUpdate,
		GuildID:   guildID,
		SessionID: sessionID,
		Event:     VoiceServer{Token: token, Endpoint: endpoint},
	}
}

// Play starts playback of an encoded track.
type Play struct {
	Op        string `json:"op"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime int64  `json:"startTime,omitempty"`
	EndTime   int64  `json:"endTime,omitempty"`
	NoReplace bool   `json:"noReplace,omitempty"`
}

// NewPlay builds a play command. startTime/endTime are milliseconds; zero
// means "not set". noReplace keeps the current track if one is playing.
func NewPlay(guildID, track string, startTime, endTime int64, noReplace bool) Play {
	return Play{
		Op:        OpPlay,
		GuildID:   guildID,
		Track:     track,
		StartTime: startTime,
		EndTime:   endTime,
		NoReplace: noReplace,
	}
}

// Pause pauses or resumes the player.
type Pause struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

// NewPause builds a pause command. Pass true to pause, false to resume.
func NewPause(guildID string, pause bool) Pause {
	return Pause{Op: OpPause, GuildID: guildID, Pause: pause}
}

// Stop stops the current track without destroying the player.
type Stop struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

// NewStop builds a stop command.
func NewStop(guildID string) Stop {
	return Stop{Op: OpStop, GuildID: guildID}
}

// Seek moves the playing track to a position in milliseconds.
type Seek struct {
	Op       string `json:"op"`
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

// NewSeek builds a seek command.
func NewSeek(guildID string, position int64) Seek {
	return Seek{Op: OpSeek, GuildID: guildID, Position: position}
}

// Volume sets the player volume, 0-1000 with 100 as default.
type Volume struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

// NewVolume builds a volume command.
func NewVolume(guildID string, volume int) Volume {
	return Volume{Op: OpVolume, GuildID: guildID, Volume: volume}
}

// EqualizerBand adjusts the gain of one of the node's equalizer bands.
type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// Filters replaces the player's active filter set. Only the equalizer is
// carried; an empty band list resets it.
type Filters struct {
	Op        string          `json:"op"`
	GuildID   string          `json:"guildId"`
	Equalizer []EqualizerBand `json:"equalizer"`
}

// NewFilters builds a filters command.
func NewFilters(guildID string, bands []EqualizerBand) Filters {
	return Filters{Op: OpFilters, GuildID: guildID, Equalizer: bands}
}

// Destroy removes the player from the node.
type Destroy struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

// NewDestroy builds a destroy command.
func NewDestroy(guildID string) Destroy {
	return Destroy{Op: OpDestroy, GuildID: guildID}
}

func (c VoiceUpdate) Opcode() string { return OpVoiceUpdate }
func (c Play) Opcode() string        { return OpPlay }
func (c Pause) Opcode() string       { return OpPause }
func (c Stop) Opcode() string        { return OpStop }
func (c Seek) Opcode() string        { return OpSeek }
func (c Volume) Opcode() string      { return OpVolume }
func (c Filters) Opcode() string     { return OpFilters }
func (c Destroy) Opcode() string     { return OpDestroy }

func (c VoiceUpdate) Guild() string { return c.GuildID }
func (c Play) Guild() string        { return c.GuildID }
func (c Pause) Guild() string       { return c.GuildID }
func (c Stop) Guild() string        { return c.GuildID }
func (c Seek) Guild() string        { return c.GuildID }
func (c Volume) Guild() string      { return c.GuildID }
func (c Filters) Guild() string     { return c.GuildID }
func (c Destroy) Guild() string     { return c.GuildID }
