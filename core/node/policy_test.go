package node

import (
	"testing"
)

// TestFewestPlayersSelect tests the default policy's choice and tie-break.
func TestFewestPlayersSelect(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		want       int
	}{
		{
			name:       "single candidate",
			candidates: []Candidate{{Address: "a", Guilds: 5}},
			want:       0,
		},
		{
			name: "picks the least loaded",
			candidates: []Candidate{
				{Address: "a", Guilds: 3},
				{Address: "b", Guilds: 1},
				{Address: "c", Guilds: 2},
			},
			want: 1,
		},
		{
			name: "tie broken by address order",
			candidates: []Candidate{
				{Address: "a", Guilds: 2},
				{Address: "b", Guilds: 2},
			},
			want: 0,
		},
		{
			name: "all empty picks the first",
			candidates: []Candidate{
				{Address: "a"},
				{Address: "b"},
				{Address: "c"},
			},
			want: 0,
		},
	}

	policy := FewestPlayers{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Select(tt.candidates); got != tt.want {
				t.Errorf("Expected index %d, got %d", tt.want, got)
			}
		})
	}
}

// TestRoundRobinSelect tests that the round-robin policy cycles.
func TestRoundRobinSelect(t *testing.T) {
	policy := &RoundRobin{}
	candidates := []Candidate{
		{Address: "a"},
		{Address: "b"},
		{Address: "c"},
	}

	want := []int{0, 1, 2, 0, 1, 2}
	for i, expected := range want {
		if got := policy.Select(candidates); got != expected {
			t.Errorf("Call %d: expected index %d, got %d", i, expected, got)
		}
	}
}

// TestPolicyByName tests name resolution and its fallback.
func TestPolicyByName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "fewest-players", want: "fewest-players"},
		{name: "round-robin", want: "round-robin"},
		{name: "", want: "fewest-players"},
		{name: "no-such-policy", want: "fewest-players"},
	}

	for _, tt := range tests {
		t.Run("name "+tt.name, func(t *testing.T) {
			if got := PolicyByName(tt.name).Name(); got != tt.want {
				t.Errorf("Expected policy %s, got %s", tt.want, got)
			}
		})
	}
}
