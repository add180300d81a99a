package radio

import (
	"sync"

	"github.com/meshboard/meshboard/internal/mesh"
)

// Bus provides fan-out pub/sub for inbound packets. It is the gateway's
// second receive path: the serial adapter publishes every decoded text
// packet here as well as delivering it on the direct channel, and the
// intake layer subscribes to both and deduplicates. Firmware lines have
// been seen dropping one path or the other under load; feeding intake
// twice and deduplicating is cheaper than diagnosing which path is lossy
// on a given install.
type Bus struct {
	mu   sync.RWMutex
	subs []chan mesh.Packet
}

// NewBus creates a ready-to-use Bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe returns a channel receiving all future packets. Past packets
// are not replayed.
func (b *Bus) Subscribe() <-chan mesh.Packet {
	ch := make(chan mesh.Packet, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers pkt to all subscribers without blocking. A subscriber
// whose buffer is full misses the packet; the direct path still carries it.
func (b *Bus) Publish(pkt mesh.Packet) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- pkt:
		default:
		}
	}
}

// Reset drops all subscriptions, closing their channels, so subscribers
// observe the closed channel.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
