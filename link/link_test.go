package link

import (
	"regexp"
	"testing"
)

func TestShapingIsZero(t *testing.T) {
	var s Shaping
	if !s.isZero() {
		t.Fatalf("expected zero-value Shaping to be zero")
	}
	s.LatencyMs = 10
	if s.isZero() {
		t.Fatalf("expected non-zero Shaping with latency set")
	}
}

func TestRandomVethNameFormat(t *testing.T) {
	re := regexp.MustCompile(`^veth-[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		name := randomVethName()
		if !re.MatchString(name) {
			t.Fatalf("veth name %q does not match expected format", name)
		}
		if seen[name] {
			t.Fatalf("veth name %q collided within 50 draws", name)
		}
		seen[name] = true
	}
}

func TestBridgeName(t *testing.T) {
	if got := bridgeName("sw1"); got != "nlbr-sw1" {
		t.Fatalf("bridgeName(sw1) = %q, want nlbr-sw1", got)
	}
}
