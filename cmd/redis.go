package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"lavabridge/cache"
	"lavabridge/config"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the snapshot cache connection",
	Long:  `Connects to the configured Redis instance and performs a basic read/write round trip.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("Redis config: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		rdb, err := cache.Connect(cfg)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pcache := cache.NewPlayerCache(rdb)
		snap := &cache.Snapshot{GuildID: "healthcheck", UpdatedAt: time.Now().UnixMilli()}
		if err := pcache.SetSnapshot(ctx, snap); err != nil {
			log.Fatalf("redis write failed: %v", err)
		}
		if _, err := pcache.GetSnapshot(ctx, "healthcheck"); err != nil {
			log.Fatalf("redis read failed: %v", err)
		}
		if err := pcache.Clear(ctx, "healthcheck"); err != nil {
			log.Fatalf("redis delete failed: %v", err)
		}

		fmt.Println("Redis round trip succeeded.")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
