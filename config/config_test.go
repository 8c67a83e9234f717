package config

import (
	"testing"
	"time"
)

func TestParseNodes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []NodeEntry
	}{
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
		{
			name: "single node",
			raw:  "ws://10.0.0.5:2333|youshallnotpass",
			want: []NodeEntry{{Address: "ws://10.0.0.5:2333", Password: "youshallnotpass"}},
		},
		{
			name: "multiple nodes",
			raw:  "ws://10.0.0.5:2333|pw1,ws://10.0.0.6:2333|pw2",
			want: []NodeEntry{
				{Address: "ws://10.0.0.5:2333", Password: "pw1"},
				{Address: "ws://10.0.0.6:2333", Password: "pw2"},
			},
		},
		{
			name: "whitespace and empty entries skipped",
			raw:  " ws://10.0.0.5:2333|pw1 , ,",
			want: []NodeEntry{{Address: "ws://10.0.0.5:2333", Password: "pw1"}},
		},
		{
			name: "missing password",
			raw:  "ws://10.0.0.5:2333",
			want: []NodeEntry{{Address: "ws://10.0.0.5:2333", Password: ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseNodes(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d entries, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Entry %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Run("getEnv", func(t *testing.T) {
		t.Setenv("LAVABRIDGE_TEST_STR", "set")
		if got := getEnv("LAVABRIDGE_TEST_STR", "fallback"); got != "set" {
			t.Errorf("Expected set, got %s", got)
		}
		if got := getEnv("LAVABRIDGE_TEST_MISSING", "fallback"); got != "fallback" {
			t.Errorf("Expected fallback, got %s", got)
		}
	})

	t.Run("getEnvInt", func(t *testing.T) {
		t.Setenv("LAVABRIDGE_TEST_INT", "42")
		if got := getEnvInt("LAVABRIDGE_TEST_INT", 7); got != 42 {
			t.Errorf("Expected 42, got %d", got)
		}
		t.Setenv("LAVABRIDGE_TEST_INT", "not-a-number")
		if got := getEnvInt("LAVABRIDGE_TEST_INT", 7); got != 7 {
			t.Errorf("Expected fallback 7, got %d", got)
		}
	})

	t.Run("getEnvBool", func(t *testing.T) {
		t.Setenv("LAVABRIDGE_TEST_BOOL", "true")
		if !getEnvBool("LAVABRIDGE_TEST_BOOL", false) {
			t.Error("Expected true")
		}
		t.Setenv("LAVABRIDGE_TEST_BOOL", "1")
		if !getEnvBool("LAVABRIDGE_TEST_BOOL", false) {
			t.Error("Expected 1 to read as true")
		}
		t.Setenv("LAVABRIDGE_TEST_BOOL", "no")
		if getEnvBool("LAVABRIDGE_TEST_BOOL", true) {
			t.Error("Expected anything else to read as false")
		}
	})

	t.Run("getEnvDuration", func(t *testing.T) {
		t.Setenv("LAVABRIDGE_TEST_DUR", "250ms")
		if got := getEnvDuration("LAVABRIDGE_TEST_DUR", time.Second); got != 250*time.Millisecond {
			t.Errorf("Expected 250ms, got %s", got)
		}
		t.Setenv("LAVABRIDGE_TEST_DUR", "bogus")
		if got := getEnvDuration("LAVABRIDGE_TEST_DUR", time.Second); got != time.Second {
			t.Errorf("Expected fallback 1s, got %s", got)
		}
	})
}
