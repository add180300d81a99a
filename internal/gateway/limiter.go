package gateway

import (
	"strings"
	"sync"
	"time"
)

// bypassCommands are exempt from rate limiting and processed even for
// senders mid-cooldown: discovery and notice reads must always succeed.
var bypassCommands = map[string]bool{
	"?":    true,
	"??":   true,
	"help": true,
	"menu": true,
}

// isBypass reports whether the normalized command text is in the bypass
// set. Any command whose first word is "info" bypasses, which covers both the
// notice read and the admin "info set". Matching is case-insensitive like
// keyword routing.
func isBypass(normalized string) bool {
	lower := strings.ToLower(normalized)
	if bypassCommands[lower] {
		return true
	}
	first, _, _ := strings.Cut(lower, " ")
	return first == "info" || bypassCommands[first]
}

// limiter enforces the per-sender cooldown. Purely in-memory and advisory:
// restarts forget all cooldowns, which is fine for a 2-second window.
type limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
}

func newLimiter(cooldown time.Duration) *limiter {
	return &limiter{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
	}
}

// allow reports whether sender may run a non-bypass command now, and
// records the acceptance when it may. Suppressed commands do not reset
// the window.
func (l *limiter) allow(sender string, now time.Time) bool {
	if l.cooldown <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.last[sender]; ok && now.Sub(prev) < l.cooldown {
		return false
	}
	l.last[sender] = now
	return true
}
