package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// NodeEntry identifies one remote playback node.
type NodeEntry struct {
	// Address is the websocket address, e.g. "ws://10.0.0.5:2333".
	Address string
	// Password is the node's authorization credential.
	Password string
}

// Config stores the application configuration.
type Config struct {
	// Nodes are the playback nodes to connect to. Discovery is not done;
	// the list comes entirely from the environment.
	Nodes []NodeEntry

	// UserID and ShardCount identify the bot towards each node during the
	// websocket handshake.
	UserID     string
	ShardCount int

	// SelectionPolicy names the guild-to-node routing policy. Supported:
	// "fewest-players" (default), "round-robin".
	SelectionPolicy string

	// Reconnect backoff bounds for node connections.
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffMaxAttempts int

	// DiscordToken is only needed by the bot command, not by the library.
	DiscordToken string

	// Redis settings for the optional now-playing snapshot cache.
	CacheEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Logging.
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		return value == "true" || value == "1"
	}
	return fallback
}

// getEnvDuration gets an environment variable as duration or returns a
// default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// parseNodes parses the NODES variable. Entries are comma separated, each
// entry is "address|password", e.g.
//
//	NODES=ws://10.0.0.5:2333|youshallnotpass,ws://10.0.0.6:2333|hunter2
func parseNodes(raw string) []NodeEntry {
	if raw == "" {
		return nil
	}

	var nodes []NodeEntry
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, password, _ := strings.Cut(entry, "|")
		nodes = append(nodes, NodeEntry{Address: addr, Password: password})
	}
	return nodes
}

// Load loads configuration from environment variables (via .env file) or
// defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	return &Config{
		Nodes:           parseNodes(os.Getenv("NODES")),
		UserID:          os.Getenv("BOT_USER_ID"),
		ShardCount:      getEnvInt("SHARD_COUNT", 1),
		SelectionPolicy: getEnv("SELECTION_POLICY", "fewest-players"),

		BackoffInitial:     getEnvDuration("BACKOFF_INITIAL", time.Second),
		BackoffMax:         getEnvDuration("BACKOFF_MAX", 30*time.Second),
		BackoffMaxAttempts: getEnvInt("BACKOFF_MAX_ATTEMPTS", 10),

		DiscordToken: os.Getenv("DISCORD_TOKEN"),

		CacheEnabled:  getEnvBool("CACHE_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
