package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"lavabridge/cache"
	"lavabridge/config"
	"lavabridge/core/client"
	"lavabridge/core/gateway"
	"lavabridge/logger"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Discord voice bridge",
	Long:  `Connects to Discord and the configured playback nodes, then forwards voice gateway events until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		runBot()
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}

func runBot() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
	})

	if cfg.DiscordToken == "" {
		logger.Fatal("DISCORD_TOKEN is not set")
	}

	var pcache *cache.PlayerCache
	if cfg.CacheEnabled {
		rdb, err := cache.Connect(cfg)
		if err != nil {
			logger.Fatal("failed to connect redis", logger.ErrorField(err))
		}
		defer rdb.Close()
		pcache = cache.NewPlayerCache(rdb)
	}

	c := client.New(cfg, pcache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Open(ctx); err != nil {
		c.Close()
		logger.Fatal("failed to open playback nodes", logger.ErrorField(err))
	}
	defer c.Close()

	// Drain player events so slow consumers never stall node dispatch.
	go func() {
		for ev := range c.Events() {
			logger.Debug("player event",
				logger.String("type", ev.EventType()),
				logger.String("guild", ev.Guild()))
		}
	}()

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logger.Fatal("failed to create discord session", logger.ErrorField(err))
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	detach := gateway.Attach(session, c)
	defer detach()

	if err := session.Open(); err != nil {
		logger.Fatal("failed to connect to discord", logger.ErrorField(err))
	}
	defer session.Close()

	logger.Info("lavabridge running",
		logger.Int("nodes", len(cfg.Nodes)),
		logger.String("policy", cfg.SelectionPolicy))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
}
