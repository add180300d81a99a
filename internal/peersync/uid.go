package peersync

import (
	"fmt"
	"math/rand"

	"github.com/teris-io/shortid"
)

// NewUID returns an opaque transfer UID. UIDs only need to be unique
// across the dedup window of the cooperating gateways and free of
// whitespace; shortid's ~10-character tokens satisfy both.
func NewUID() string {
	uid, err := shortid.Generate()
	if err != nil {
		// shortid only fails before its default generator is seeded;
		// fall back to something unique enough for a dedup key.
		return fmt.Sprintf("u%09x", rand.Int63n(1<<36))
	}
	return uid
}
