package gateway

import "strings"

// menuItems is the full menu in display order. Labels are what users see;
// the removal order below decides what survives on small MTUs.
var menuItems = []string{
	"r list",
	"r <id>",
	"p <txt> post",
	"reply <id> <txt>",
	"info",
	"status",
	"whoami",
	"whois <name>",
	"nodes",
	"dm <name> <txt>",
	"?? help",
}

// menuRemovalOrder names the items dropped first when the menu does not
// fit, least essential first. Deployments rely on this order to predict
// what a small-MTU menu looks like, so it is contract, not cosmetics.
var menuRemovalOrder = []string{
	"dm <name> <txt>",
	"whois <name>",
	"nodes",
	"whoami",
	"status",
	"info",
	"reply <id> <txt>",
	"p <txt> post",
	"r <id>",
}

// minimalMenuSuffix is the fallback when dropping items is not enough.
const minimalMenuSuffix = " r list | p | r <id> | ??"

// lastResortMenu is emitted when even the minimal fallback exceeds the
// MTU. It may itself exceed a pathologically small MTU; that is accepted.
const lastResortMenu = "[BBS] r|p|r#|??"

// BuildMenu renders the bracketed, pipe-separated menu for the given
// display name, shrunk to fit mtu by dropping items in the fixed removal
// order.
func BuildMenu(name string, mtu int) string {
	prefix := "[" + name + "]"

	items := make([]string, len(menuItems))
	copy(items, menuItems)

	render := func() string {
		return prefix + " " + strings.Join(items, " | ")
	}

	if m := render(); len(m) <= mtu {
		return m
	}

	for _, drop := range menuRemovalOrder {
		items = remove(items, drop)
		if m := render(); len(m) <= mtu {
			return m
		}
	}

	if m := prefix + minimalMenuSuffix; len(m) <= mtu {
		return m
	}
	return lastResortMenu
}

func remove(items []string, drop string) []string {
	out := items[:0]
	for _, it := range items {
		if it != drop {
			out = append(out, it)
		}
	}
	return out
}
