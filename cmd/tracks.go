package cmd

import (
	"context"
	"fmt"
	"log"

	"lavabridge/config"
	"lavabridge/core/node"
	"lavabridge/model"

	"github.com/spf13/cobra"
)

var tracksCmd = &cobra.Command{
	Use:   "tracks <identifier>",
	Short: "Resolve tracks against the first configured node",
	Long:  `Queries a node's track loading API with a URL or search query and prints what it resolved.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if len(cfg.Nodes) == 0 {
			log.Fatal("no nodes configured, set NODES")
		}
		entry := cfg.Nodes[0]

		loaded, err := node.LoadTracks(context.Background(), entry.Address, entry.Password, args[0])
		if err != nil {
			log.Fatalf("track load failed: %v", err)
		}

		fmt.Printf("load type: %s\n", loaded.LoadType)
		if loaded.LoadType == model.LoadFailed && loaded.Exception != nil {
			fmt.Printf("exception: %s (%s)\n", loaded.Exception.Message, loaded.Exception.Severity)
			return
		}
		if loaded.PlaylistInfo != nil {
			fmt.Printf("playlist: %s\n", loaded.PlaylistInfo.Name)
		}
		for i, track := range loaded.Tracks {
			fmt.Printf("%2d. %s - %s (%dms)\n   %s\n",
				i+1, track.Info.Author, track.Info.Title, track.Info.Length, track.Encoded)
		}
	},
}

func init() {
	rootCmd.AddCommand(tracksCmd)
}
