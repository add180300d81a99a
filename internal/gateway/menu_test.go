package gateway_test

import (
	"strings"
	"testing"

	"github.com/meshboard/meshboard/internal/gateway"
)

func TestBuildMenuFullFits(t *testing.T) {
	t.Parallel()

	m := gateway.BuildMenu("MeshLink BBS", 240)
	if !strings.HasPrefix(m, "[MeshLink BBS] ") {
		t.Errorf("menu prefix = %q", m)
	}
	if len(m) > 240 {
		t.Errorf("menu length %d exceeds 240", len(m))
	}
	for _, item := range []string{"r list", "p <txt>", "dm <name>", "?? help"} {
		if !strings.Contains(m, item) {
			t.Errorf("full menu missing %q: %q", item, m)
		}
	}
}

// TestBuildMenuShrinks verifies the fixed removal order: the least
// essential items disappear first as the MTU tightens.
func TestBuildMenuShrinks(t *testing.T) {
	t.Parallel()

	m := gateway.BuildMenu("MeshLink BBS", 60)
	if len(m) > 60 {
		t.Fatalf("menu length %d exceeds 60: %q", len(m), m)
	}
	if strings.Contains(m, "dm <name>") {
		t.Errorf("dm should be dropped first at small MTUs: %q", m)
	}
	if !strings.Contains(m, "r list") {
		t.Errorf("r list must survive shrinking: %q", m)
	}

	// Tightening the MTU never reorders survivors, only removes.
	wide := gateway.BuildMenu("B", 200)
	narrow := gateway.BuildMenu("B", 80)
	for _, item := range strings.Split(strings.TrimPrefix(narrow, "[B] "), " | ") {
		if !strings.Contains(wide, item) {
			t.Errorf("narrow menu item %q absent from wide menu", item)
		}
	}
}

func TestBuildMenuFitsAllReasonableMTUs(t *testing.T) {
	t.Parallel()

	// The last-resort string is 15 bytes; above that every MTU must be
	// honored exactly.
	for mtu := 16; mtu <= 250; mtu++ {
		if m := gateway.BuildMenu("MeshLink BBS", mtu); len(m) > mtu {
			t.Fatalf("mtu %d: menu length %d: %q", mtu, len(m), m)
		}
	}
}

func TestBuildMenuLastResort(t *testing.T) {
	t.Parallel()

	m := gateway.BuildMenu("Some Very Long Board Name", 12)
	if m != "[BBS] r|p|r#|??" {
		t.Errorf("last-resort menu = %q", m)
	}
}
