package model

// VoiceStateUpdate is the platform gateway event carrying a user's voice
// session. Only updates for the bot's own user ID are relevant; an empty
// ChannelID means the bot left the voice channel.
type VoiceStateUpdate struct {
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	ChannelID string `json:"channel_id"`
}

// VoiceServerUpdate is the platform gateway event carrying the voice
// connection token and endpoint for a guild.
type VoiceServerUpdate struct {
	GuildID  string `json:"guild_id"`
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}
