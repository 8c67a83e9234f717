package gateway

import (
	"context"

	"lavabridge/core/client"
	"lavabridge/logger"
	"lavabridge/model"

	"github.com/bwmarrin/discordgo"
)

// Attach registers voice event handlers on a discordgo session and feeds
// them to the client. The returned function detaches the handlers again.
// The gateway connection itself (open, resume, sharding) stays the
// caller's responsibility.
func Attach(session *discordgo.Session, c *client.Client) func() {
	removeState := session.AddHandler(func(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
		upd := model.VoiceStateUpdate{
			GuildID:   ev.GuildID,
			UserID:    ev.UserID,
			SessionID: ev.SessionID,
			ChannelID: ev.ChannelID,
		}
		if err := c.Process(context.Background(), upd); err != nil {
			logger.Warn("voice state update not processed",
				logger.String("guild", ev.GuildID),
				logger.ErrorField(err))
		}
	})

	removeServer := session.AddHandler(func(_ *discordgo.Session, ev *discordgo.VoiceServerUpdate) {
		upd := model.VoiceServerUpdate{
			GuildID:  ev.GuildID,
			Token:    ev.Token,
			Endpoint: ev.Endpoint,
		}
		if err := c.Process(context.Background(), upd); err != nil {
			logger.Warn("voice server update not processed",
				logger.String("guild", ev.GuildID),
				logger.ErrorField(err))
		}
	})

	return func() {
		removeState()
		removeServer()
	}
}

// Join asks the gateway to join a voice channel without letting discordgo
// handle the voice connection itself; the resulting state/server events
// flow back through Attach and on to the playback node.
func Join(session *discordgo.Session, guildID, channelID string) error {
	return session.ChannelVoiceJoinManual(guildID, channelID, false, true)
}

// Leave asks the gateway to disconnect from voice in a guild. The null
// channel in the resulting voice state tears the player down.
func Leave(session *discordgo.Session, guildID string) error {
	return session.ChannelVoiceJoinManual(guildID, "", false, true)
}
