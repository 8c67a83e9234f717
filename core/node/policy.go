package node

import (
	"sync/atomic"

	"lavabridge/model"
)

// Candidate is one routable node offered to a selection policy. Candidates
// are always presented sorted by address so policies can be deterministic.
type Candidate struct {
	Address string
	// Guilds is the number of guilds currently routed to the node.
	Guilds int
	// Stats is the node's last reported stats frame, nil before the first
	// report.
	Stats *model.Stats
}

// Policy picks which node a newly-routed guild lands on.
type Policy interface {
	Name() string
	// Select returns the index of the chosen candidate. The slice is
	// never empty.
	Select(candidates []Candidate) int
}

// FewestPlayers routes to the node with the fewest routed guilds, ties
// broken by address order. This is the default policy.
type FewestPlayers struct{}

func (FewestPlayers) Name() string { return "fewest-players" }

func (FewestPlayers) Select(candidates []Candidate) int {
	best := 0
	for i, c := range candidates[1:] {
		if c.Guilds < candidates[best].Guilds {
			best = i + 1
		}
	}
	return best
}

// RoundRobin cycles through nodes in address order.
type RoundRobin struct {
	next atomic.Uint64
}

func (*RoundRobin) Name() string { return "round-robin" }

func (p *RoundRobin) Select(candidates []Candidate) int {
	n := p.next.Add(1) - 1
	return int(n % uint64(len(candidates)))
}

// PolicyByName resolves a configured policy name, falling back to
// FewestPlayers for anything unrecognized.
func PolicyByName(name string) Policy {
	switch name {
	case "round-robin":
		return &RoundRobin{}
	default:
		return FewestPlayers{}
	}
}
