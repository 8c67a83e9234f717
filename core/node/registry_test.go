package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"lavabridge/model"
)

// fakeHandle is an in-memory Handle for registry tests.
type fakeHandle struct {
	addr string

	mu     sync.Mutex
	state  State
	sent   []model.OutgoingCommand
	closed bool

	msgs chan model.IncomingMessage
}

func newFakeHandle(addr string) *fakeHandle {
	return &fakeHandle{
		addr:  addr,
		state: StateReady,
		msgs:  make(chan model.IncomingMessage),
	}
}

func (f *fakeHandle) Address() string { return f.addr }

func (f *fakeHandle) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeHandle) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeHandle) SessionID() string { return "sess-" + f.addr }

func (f *fakeHandle) Stats() *model.Stats { return nil }

func (f *fakeHandle) Send(_ context.Context, cmd model.OutgoingCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrShutdown
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeHandle) Messages() <-chan model.IncomingMessage { return f.msgs }

func (f *fakeHandle) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.msgs)
	}
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// testRegistry builds a registry whose dial hands out fake handles and
// records the per-node state callbacks for later transitions.
func testRegistry(cfg RegistryConfig) (*Registry, map[string]*fakeHandle) {
	r := NewRegistry(cfg)
	handles := make(map[string]*fakeHandle)
	var mu sync.Mutex
	r.dial = func(_ context.Context, opts Options, _ func(c *Conn, s State)) (Handle, error) {
		h := newFakeHandle(opts.Address)
		mu.Lock()
		handles[opts.Address] = h
		mu.Unlock()
		return h, nil
	}
	return r, handles
}

func TestRegistryAdd(t *testing.T) {
	t.Run("rejects duplicate address", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		defer r.Close()

		if _, err := r.Add(context.Background(), "node-a", "pw"); err != nil {
			t.Fatalf("First add failed: %v", err)
		}
		if _, err := r.Add(context.Background(), "node-a", "pw"); err == nil {
			t.Error("Expected duplicate add to fail")
		}
	})

	t.Run("propagates dial errors without registering", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		defer r.Close()

		dialErr := errors.New("connection refused")
		r.dial = func(context.Context, Options, func(c *Conn, s State)) (Handle, error) {
			return nil, dialErr
		}

		if _, err := r.Add(context.Background(), "node-a", "pw"); !errors.Is(err, dialErr) {
			t.Errorf("Expected dial error, got %v", err)
		}
		if len(r.Nodes()) != 0 {
			t.Error("Expected no registered nodes after a failed add")
		}
	})

	t.Run("rejects adds after close", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		r.Close()

		if _, err := r.Add(context.Background(), "node-a", "pw"); !errors.Is(err, ErrShutdown) {
			t.Errorf("Expected ErrShutdown, got %v", err)
		}
	})

	t.Run("concurrent adds for one address dial once", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		defer r.Close()

		var dials atomic.Int32
		release := make(chan struct{})
		r.dial = func(_ context.Context, opts Options, _ func(c *Conn, s State)) (Handle, error) {
			dials.Add(1)
			<-release
			return newFakeHandle(opts.Address), nil
		}

		results := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				_, err := r.Add(context.Background(), "node-a", "pw")
				results <- err
			}()
		}

		// The loser fails on the reservation without dialing; it must not
		// need the release to come back.
		first := <-results
		if first == nil {
			t.Fatal("Expected the losing add to fail while the winner is still dialing")
		}
		close(release)
		if second := <-results; second != nil {
			t.Fatalf("Expected the winning add to succeed, got %v", second)
		}

		if got := dials.Load(); got != 1 {
			t.Errorf("Expected exactly one dial, got %d", got)
		}
		if nodes := r.Nodes(); len(nodes) != 1 {
			t.Errorf("Expected one registered node, got %d", len(nodes))
		}
	})

	t.Run("address reusable after failed dial", func(t *testing.T) {
		r, handles := testRegistry(RegistryConfig{})
		defer r.Close()

		goodDial := r.dial
		r.dial = func(context.Context, Options, func(c *Conn, s State)) (Handle, error) {
			return nil, errors.New("connection refused")
		}
		if _, err := r.Add(context.Background(), "node-a", "pw"); err == nil {
			t.Fatal("Expected first add to fail")
		}

		r.dial = goodDial
		if _, err := r.Add(context.Background(), "node-a", "pw"); err != nil {
			t.Fatalf("Expected retry to succeed, got %v", err)
		}
		if handles["node-a"] == nil {
			t.Error("Expected a handle for the retried node")
		}
	})

	t.Run("closes handle when registry closes mid-dial", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})

		h := newFakeHandle("node-a")
		dialing := make(chan struct{})
		release := make(chan struct{})
		r.dial = func(context.Context, Options, func(c *Conn, s State)) (Handle, error) {
			close(dialing)
			<-release
			return h, nil
		}

		done := make(chan error, 1)
		go func() {
			_, err := r.Add(context.Background(), "node-a", "pw")
			done <- err
		}()

		<-dialing
		r.Close()
		close(release)
		if err := <-done; !errors.Is(err, ErrShutdown) {
			t.Fatalf("Expected ErrShutdown, got %v", err)
		}
		if !h.isClosed() {
			t.Error("Expected the dialed handle to be closed")
		}
	})
}

func TestRegistryRoute(t *testing.T) {
	t.Run("no nodes", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		defer r.Close()

		if _, err := r.Route("g1"); !errors.Is(err, ErrNoNodes) {
			t.Errorf("Expected ErrNoNodes, got %v", err)
		}
	})

	t.Run("assignment is sticky", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		defer r.Close()

		r.Add(context.Background(), "node-a", "pw")
		r.Add(context.Background(), "node-b", "pw")

		first, err := r.Route("g1")
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		for i := 0; i < 10; i++ {
			again, err := r.Route("g1")
			if err != nil {
				t.Fatalf("Route failed: %v", err)
			}
			if again.Address() != first.Address() {
				t.Fatalf("Route moved g1 from %s to %s", first.Address(), again.Address())
			}
		}
	})

	t.Run("fewest players balances guilds", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		defer r.Close()

		r.Add(context.Background(), "node-a", "pw")
		r.Add(context.Background(), "node-b", "pw")

		counts := map[string]int{}
		for _, g := range []string{"g1", "g2", "g3", "g4"} {
			h, err := r.Route(g)
			if err != nil {
				t.Fatalf("Route failed: %v", err)
			}
			counts[h.Address()]++
		}
		if counts["node-a"] != 2 || counts["node-b"] != 2 {
			t.Errorf("Expected 2/2 split, got %v", counts)
		}
	})

	t.Run("skips failed and disconnected nodes", func(t *testing.T) {
		r, handles := testRegistry(RegistryConfig{})
		defer r.Close()

		r.Add(context.Background(), "node-a", "pw")
		r.Add(context.Background(), "node-b", "pw")
		handles["node-a"].setState(StateDisconnected)

		for _, g := range []string{"g1", "g2", "g3"} {
			h, err := r.Route(g)
			if err != nil {
				t.Fatalf("Route failed: %v", err)
			}
			if h.Address() != "node-b" {
				t.Errorf("Expected %s on node-b, got %s", g, h.Address())
			}
		}
	})

	t.Run("reconnecting nodes stay routable", func(t *testing.T) {
		r, handles := testRegistry(RegistryConfig{})
		defer r.Close()

		r.Add(context.Background(), "node-a", "pw")
		handles["node-a"].setState(StateReconnecting)

		if _, err := r.Route("g1"); err != nil {
			t.Errorf("Expected reconnecting node to accept routes, got %v", err)
		}
	})

	t.Run("concurrent routes assign one node per guild", func(t *testing.T) {
		r, _ := testRegistry(RegistryConfig{})
		defer r.Close()

		r.Add(context.Background(), "node-a", "pw")
		r.Add(context.Background(), "node-b", "pw")
		r.Add(context.Background(), "node-c", "pw")

		const workers = 16
		addrs := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h, err := r.Route("g1")
				if err != nil {
					t.Errorf("Route failed: %v", err)
					return
				}
				addrs[i] = h.Address()
			}(i)
		}
		wg.Wait()

		for i := 1; i < workers; i++ {
			if addrs[i] != addrs[0] {
				t.Fatalf("Guild routed to both %s and %s", addrs[0], addrs[i])
			}
		}
	})
}

func TestRegistryLookupRelease(t *testing.T) {
	r, _ := testRegistry(RegistryConfig{})
	defer r.Close()

	r.Add(context.Background(), "node-a", "pw")

	if _, ok := r.Lookup("g1"); ok {
		t.Error("Expected no route before Route is called")
	}

	r.Route("g1")
	h, ok := r.Lookup("g1")
	if !ok {
		t.Fatal("Expected a route after Route")
	}
	if h.Address() != "node-a" {
		t.Errorf("Expected node-a, got %s", h.Address())
	}

	r.Release("g1")
	if _, ok := r.Lookup("g1"); ok {
		t.Error("Expected Release to drop the route")
	}

	// Released slots are reassigned fresh.
	if _, err := r.Route("g1"); err != nil {
		t.Errorf("Route after release failed: %v", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	var gotAddr string
	var gotOrphans []string
	r, handles := testRegistry(RegistryConfig{
		OnOrphan: func(address string, guilds []string) {
			gotAddr = address
			gotOrphans = guilds
		},
	})
	defer r.Close()

	r.Add(context.Background(), "node-a", "pw")
	r.Route("g2")
	r.Route("g1")

	r.Remove("node-a")

	if !handles["node-a"].isClosed() {
		t.Error("Expected the removed node's handle to be closed")
	}
	if gotAddr != "node-a" {
		t.Errorf("Expected orphan callback for node-a, got %q", gotAddr)
	}
	if len(gotOrphans) != 2 || gotOrphans[0] != "g1" || gotOrphans[1] != "g2" {
		t.Errorf("Expected orphans [g1 g2], got %v", gotOrphans)
	}
	if _, ok := r.Lookup("g1"); ok {
		t.Error("Expected routes dropped after remove")
	}

	// Removing twice is a no-op.
	gotOrphans = nil
	r.Remove("node-a")
	if gotOrphans != nil {
		t.Error("Expected no second orphan callback")
	}
}

func TestRegistryTerminalFailure(t *testing.T) {
	var mu sync.Mutex
	var states []State
	var orphans []string
	r, _ := testRegistry(RegistryConfig{
		OnState: func(address string, s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
		OnOrphan: func(address string, guilds []string) {
			mu.Lock()
			orphans = append(orphans, guilds...)
			mu.Unlock()
		},
	})
	defer r.Close()

	r.Add(context.Background(), "node-a", "pw")
	r.Route("g1")

	// A terminal failure reported by the connection acts like Remove.
	r.nodeStateChanged("node-a", StateFailed)

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 1 || states[0] != StateFailed {
		t.Errorf("Expected one Failed notification, got %v", states)
	}
	if len(orphans) != 1 || orphans[0] != "g1" {
		t.Errorf("Expected orphans [g1], got %v", orphans)
	}
	if len(r.Nodes()) != 0 {
		t.Error("Expected failed node to be dropped from the registry")
	}
}

func TestRegistryNodesSnapshot(t *testing.T) {
	r, _ := testRegistry(RegistryConfig{})
	defer r.Close()

	r.Add(context.Background(), "node-b", "pw")
	r.Add(context.Background(), "node-a", "pw")
	r.Route("g1") // lands on node-a, the least loaded by address order

	infos := r.Nodes()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(infos))
	}
	if infos[0].Address != "node-a" || infos[1].Address != "node-b" {
		t.Errorf("Expected address-sorted snapshot, got %s, %s",
			infos[0].Address, infos[1].Address)
	}
	if len(infos[0].Guilds) != 1 || infos[0].Guilds[0] != "g1" {
		t.Errorf("Expected node-a to hold g1, got %v", infos[0].Guilds)
	}
	if infos[0].State != StateReady {
		t.Errorf("Expected Ready, got %s", infos[0].State)
	}
}

func TestRegistryClose(t *testing.T) {
	r, handles := testRegistry(RegistryConfig{})

	r.Add(context.Background(), "node-a", "pw")
	r.Add(context.Background(), "node-b", "pw")
	r.Route("g1")

	r.Close()

	for addr, h := range handles {
		if !h.isClosed() {
			t.Errorf("Expected %s closed", addr)
		}
	}
	if _, err := r.Route("g2"); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown after close, got %v", err)
	}

	// Close is idempotent.
	r.Close()
}
