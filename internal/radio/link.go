package radio

import (
	"context"

	"github.com/meshboard/meshboard/internal/mesh"
)

// Link is the contract the gateway consumes from the attached radio.
// Implementations must serialize sends internally and enforce the
// configured inter-transmit gap; callers never coordinate.
type Link interface {
	// Send transmits one text frame to dest (a canonical node id, or
	// mesh.Broadcast). Best effort: transport errors are returned for
	// logging but carry no retry obligation.
	Send(ctx context.Context, dest, text string) error

	// Packets is the direct receive path. The channel closes when the
	// link is closed.
	Packets() <-chan mesh.Packet

	// Nodes returns a snapshot of the radio's node directory.
	Nodes() []mesh.NodeEntry

	// Self describes the attached radio, once the startup handshake has
	// populated it.
	Self() (mesh.NodeInfo, bool)

	// Close tears the link down. Safe to call more than once.
	Close() error
}

// Opener creates a fresh Link. The supervisor uses it to reconnect after
// receive silence; main uses it for the initial open.
type Opener func(ctx context.Context) (Link, error)
