package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lavabridge/cache"
	"lavabridge/config"
	"lavabridge/core/node"
	"lavabridge/core/player"
	"lavabridge/core/voice"
	"lavabridge/logger"
	"lavabridge/model"
)

// ErrUnknownEvent is returned by Process for event types the client does
// not consume.
var ErrUnknownEvent = errors.New("unknown event type")

// Client is the top-level entry point: it receives the platform's voice
// gateway events, correlates them into voice updates, and drives the
// player manager and node registry.
type Client struct {
	cfg      *config.Config
	agg      *voice.Aggregator
	registry *node.Registry
	players  *player.Manager

	// seq serializes a guild's aggregate-then-dispatch path so two
	// completed voice updates cannot invert between the aggregator and
	// the node socket.
	seqMu sync.Mutex
	seq   map[string]*sync.Mutex

	wg sync.WaitGroup

	closeOnce sync.Once
}

// New wires a client from configuration. pcache may be nil to disable
// snapshot mirroring. Call Open to connect the configured nodes.
func New(cfg *config.Config, pcache *cache.PlayerCache) *Client {
	c := &Client{
		cfg: cfg,
		agg: voice.NewAggregator(),
		seq: make(map[string]*sync.Mutex),
	}

	c.registry = node.NewRegistry(node.RegistryConfig{
		UserID:             cfg.UserID,
		ShardCount:         cfg.ShardCount,
		BackoffInitial:     cfg.BackoffInitial,
		BackoffMax:         cfg.BackoffMax,
		BackoffMaxAttempts: cfg.BackoffMaxAttempts,
		Policy:             node.PolicyByName(cfg.SelectionPolicy),
		OnState: func(address string, s node.State) {
			c.players.NodeStateChanged(address, s)
		},
		OnOrphan: func(address string, guilds []string) {
			c.players.OrphanNode(address, guilds)
		},
	})
	c.players = player.NewManager(c.registry, c.agg, pcache)

	return c
}

// Open connects every configured node. Failing one node fails the whole
// open; the caller should Close to tear down nodes connected so far.
func (c *Client) Open(ctx context.Context) error {
	if len(c.cfg.Nodes) == 0 {
		return node.ErrNoNodes
	}

	for _, entry := range c.cfg.Nodes {
		if err := c.AddNode(ctx, entry.Address, entry.Password); err != nil {
			return fmt.Errorf("open node %s: %w", entry.Address, err)
		}
	}
	return nil
}

// AddNode connects one node and starts dispatching its messages.
func (c *Client) AddNode(ctx context.Context, address, password string) error {
	h, err := c.registry.Add(ctx, address, password)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range h.Messages() {
			c.players.HandleMessage(h.Address(), msg)
		}
		logger.Debug("node dispatch finished", logger.String("node", h.Address()))
	}()
	return nil
}

// RemoveNode disconnects a node. Its players are orphaned, not migrated.
func (c *Client) RemoveNode(address string) {
	c.registry.Remove(address)
}

// Process is the single entry point for raw voice gateway events. It
// accepts model.VoiceStateUpdate and model.VoiceServerUpdate values;
// anything else is ErrUnknownEvent.
func (c *Client) Process(ctx context.Context, event interface{}) error {
	switch ev := event.(type) {
	case model.VoiceStateUpdate:
		return c.ProcessVoiceStateUpdate(ctx, ev)
	case *model.VoiceStateUpdate:
		return c.ProcessVoiceStateUpdate(ctx, *ev)
	case model.VoiceServerUpdate:
		return c.ProcessVoiceServerUpdate(ctx, ev)
	case *model.VoiceServerUpdate:
		return c.ProcessVoiceServerUpdate(ctx, *ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

// ProcessVoiceStateUpdate feeds a voice-state event into the aggregator.
// Updates for users other than the configured bot user are ignored. A null
// channel tears the guild's player down; a completed fragment sends the
// voice update to the guild's node.
func (c *Client) ProcessVoiceStateUpdate(ctx context.Context, ev model.VoiceStateUpdate) error {
	if c.cfg.UserID != "" && ev.UserID != c.cfg.UserID {
		return nil
	}

	seq := c.guildSeq(ev.GuildID)
	seq.Lock()
	defer seq.Unlock()

	done, leave := c.agg.OnVoiceState(ev.GuildID, ev.SessionID, ev.ChannelID)
	if leave {
		c.players.Disconnect(ctx, ev.GuildID)
		return nil
	}
	if done != nil {
		return c.players.ApplyVoiceUpdate(ctx, *done)
	}
	return nil
}

// ProcessVoiceServerUpdate feeds a voice-server event into the aggregator
// and sends the voice update if it completed the guild's fragment.
func (c *Client) ProcessVoiceServerUpdate(ctx context.Context, ev model.VoiceServerUpdate) error {
	seq := c.guildSeq(ev.GuildID)
	seq.Lock()
	defer seq.Unlock()

	if done := c.agg.OnVoiceServer(ev.GuildID, ev.Token, ev.Endpoint); done != nil {
		return c.players.ApplyVoiceUpdate(ctx, *done)
	}
	return nil
}

// guildSeq returns the guild's dispatch mutex, creating it on first use.
// Entries live for the client's lifetime; the per-guild footprint is one
// mutex.
func (c *Client) guildSeq(guildID string) *sync.Mutex {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	m, ok := c.seq[guildID]
	if !ok {
		m = &sync.Mutex{}
		c.seq[guildID] = m
	}
	return m
}

// Players exposes the player command surface.
func (c *Client) Players() *player.Manager {
	return c.players
}

// Nodes returns a snapshot of every registered node.
func (c *Client) Nodes() []node.NodeInfo {
	return c.registry.Nodes()
}

// Events exposes player events to the caller.
func (c *Client) Events() <-chan model.PlayerEvent {
	return c.players.Events()
}

// Close cancels every node pump and closes the event stream. In-flight
// commands fail with the shutdown error.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.registry.Close()
		c.wg.Wait()
		c.players.CloseEvents()
		logger.Info("client closed")
	})
}
