package node

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lavabridge/logger"
	"lavabridge/model"
)

// Handle is the sending side of a node connection as seen by the rest of
// the system. *Conn implements it; tests substitute fakes.
type Handle interface {
	Address() string
	State() State
	SessionID() string
	Stats() *model.Stats
	Send(ctx context.Context, cmd model.OutgoingCommand) error
	Messages() <-chan model.IncomingMessage
	Close()
}

// dialFunc opens a connection; swapped out in tests.
type dialFunc func(ctx context.Context, opts Options, onState func(c *Conn, s State)) (Handle, error)

func defaultDial(ctx context.Context, opts Options, onState func(c *Conn, s State)) (Handle, error) {
	return Connect(ctx, opts, onState)
}

// NodeInfo is a read-only snapshot of one registered node.
type NodeInfo struct {
	Address   string
	State     State
	SessionID string
	Guilds    []string
	Stats     *model.Stats
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Handshake identity passed to every connection.
	UserID     string
	ShardCount int

	// Backoff bounds passed to every connection.
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffMaxAttempts int

	// Policy selects the node for a newly-routed guild. Nil means
	// FewestPlayers.
	Policy Policy

	// OnState is notified on every node state transition, after the
	// registry's own bookkeeping. Called from pump goroutines; must not
	// block and must not call back into the registry synchronously with
	// a send.
	OnState func(address string, s State)

	// OnOrphan is notified with the guilds stranded when a node is
	// removed or fails terminally.
	OnOrphan func(address string, guilds []string)
}

// managed pairs a connection with the guilds routed to it.
type managed struct {
	handle Handle
	guilds map[string]struct{}
}

// Registry owns the set of node connections and the guild-to-node routing
// table. A guild is routed to at most one node; the assignment is made on
// first route and sticky until the node goes away.
type Registry struct {
	cfg  RegistryConfig
	dial dialFunc

	mu      sync.Mutex
	nodes   map[string]*managed
	pending map[string]struct{} // addresses mid-dial, reserved against duplicate Adds
	routes  map[string]string   // guild -> address
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Policy == nil {
		cfg.Policy = FewestPlayers{}
	}
	return &Registry{
		cfg:     cfg,
		dial:    defaultDial,
		nodes:   make(map[string]*managed),
		pending: make(map[string]struct{}),
		routes:  make(map[string]string),
	}
}

// Add connects a node and registers it for routing. Connection failures
// are terminal: the node is not registered and the caller decides whether
// to try again.
func (r *Registry) Add(ctx context.Context, address, password string) (Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	if _, exists := r.nodes[address]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("node %s already registered", address)
	}
	if _, exists := r.pending[address]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("node %s already registered", address)
	}
	// Reserve the address so a concurrent Add for the same node loses
	// here instead of after both have dialed.
	r.pending[address] = struct{}{}
	r.mu.Unlock()

	opts := Options{
		Address:            address,
		Password:           password,
		UserID:             r.cfg.UserID,
		ShardCount:         r.cfg.ShardCount,
		BackoffInitial:     r.cfg.BackoffInitial,
		BackoffMax:         r.cfg.BackoffMax,
		BackoffMaxAttempts: r.cfg.BackoffMaxAttempts,
	}

	handle, err := r.dial(ctx, opts, func(_ *Conn, s State) {
		r.nodeStateChanged(address, s)
	})

	r.mu.Lock()
	delete(r.pending, address)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if r.closed {
		r.mu.Unlock()
		handle.Close()
		return nil, ErrShutdown
	}
	r.nodes[address] = &managed{handle: handle, guilds: make(map[string]struct{})}
	r.mu.Unlock()

	logger.Info("node registered", logger.String("node", address))
	return handle, nil
}

// Remove closes a node's connection and drops it from routing. Guilds
// routed to it are reported through OnOrphan; there is no automatic
// migration.
func (r *Registry) Remove(address string) {
	r.mu.Lock()
	m, ok := r.nodes[address]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.nodes, address)
	orphans := r.unrouteAll(address, m)
	r.mu.Unlock()

	m.handle.Close()
	logger.Info("node removed",
		logger.String("node", address),
		logger.Int("orphaned_guilds", len(orphans)))

	if r.cfg.OnOrphan != nil && len(orphans) > 0 {
		r.cfg.OnOrphan(address, orphans)
	}
}

// Route returns the node handling a guild, assigning one via the selection
// policy on first call and reusing the assignment afterwards.
func (r *Registry) Route(guildID string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrShutdown
	}

	if addr, ok := r.routes[guildID]; ok {
		if m, ok := r.nodes[addr]; ok {
			return m.handle, nil
		}
		// Node vanished without unrouting; should not happen.
		delete(r.routes, guildID)
	}

	candidates := r.candidatesLocked()
	if len(candidates) == 0 {
		return nil, ErrNoNodes
	}

	chosen := candidates[r.cfg.Policy.Select(candidates)]
	m := r.nodes[chosen.Address]
	m.guilds[guildID] = struct{}{}
	r.routes[guildID] = chosen.Address

	logger.Debug("guild routed",
		logger.String("guild", guildID),
		logger.String("node", chosen.Address),
		logger.String("policy", r.cfg.Policy.Name()))
	return m.handle, nil
}

// Lookup returns a guild's routed node without assigning one.
func (r *Registry) Lookup(guildID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr, ok := r.routes[guildID]
	if !ok {
		return nil, false
	}
	m, ok := r.nodes[addr]
	if !ok {
		return nil, false
	}
	return m.handle, true
}

// Release frees a guild's routing slot, e.g. after its player is
// destroyed.
func (r *Registry) Release(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr, ok := r.routes[guildID]
	if !ok {
		return
	}
	delete(r.routes, guildID)
	if m, ok := r.nodes[addr]; ok {
		delete(m.guilds, guildID)
	}
}

// Nodes returns a snapshot of every registered node.
func (r *Registry) Nodes() []NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]NodeInfo, 0, len(r.nodes))
	for addr, m := range r.nodes {
		guilds := make([]string, 0, len(m.guilds))
		for g := range m.guilds {
			guilds = append(guilds, g)
		}
		sort.Strings(guilds)
		infos = append(infos, NodeInfo{
			Address:   addr,
			State:     m.handle.State(),
			SessionID: m.handle.SessionID(),
			Guilds:    guilds,
			Stats:     m.handle.Stats(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// Close tears down every connection. The registry cannot be reused.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := make([]Handle, 0, len(r.nodes))
	for _, m := range r.nodes {
		handles = append(handles, m.handle)
	}
	r.nodes = make(map[string]*managed)
	r.routes = make(map[string]string)
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

// nodeStateChanged revalidates routing on node transitions. A terminal
// failure strands the node's guilds exactly like an explicit Remove.
func (r *Registry) nodeStateChanged(address string, s State) {
	var orphans []string
	if s == StateFailed {
		r.mu.Lock()
		if m, ok := r.nodes[address]; ok {
			delete(r.nodes, address)
			orphans = r.unrouteAll(address, m)
		}
		r.mu.Unlock()

		logger.Error("node failed terminally",
			logger.String("node", address),
			logger.Int("orphaned_guilds", len(orphans)))
	}

	if r.cfg.OnState != nil {
		r.cfg.OnState(address, s)
	}
	if r.cfg.OnOrphan != nil && len(orphans) > 0 {
		r.cfg.OnOrphan(address, orphans)
	}
}

// unrouteAll drops every route to a node and returns the stranded guilds
// in address order. Callers must hold the mutex.
func (r *Registry) unrouteAll(address string, m *managed) []string {
	orphans := make([]string, 0, len(m.guilds))
	for g := range m.guilds {
		delete(r.routes, g)
		orphans = append(orphans, g)
	}
	sort.Strings(orphans)
	return orphans
}

// candidatesLocked lists routable nodes sorted by address. Failed and
// disconnected nodes are excluded; a reconnecting node stays routable so
// commands queue behind its backoff instead of landing on a random node.
func (r *Registry) candidatesLocked() []Candidate {
	candidates := make([]Candidate, 0, len(r.nodes))
	for addr, m := range r.nodes {
		switch m.handle.State() {
		case StateFailed, StateDisconnected:
			continue
		}
		candidates = append(candidates, Candidate{
			Address: addr,
			Guilds:  len(m.guilds),
			Stats:   m.handle.Stats(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Address < candidates[j].Address })
	return candidates
}
