package radio_test

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/meshboard/meshboard/internal/mesh"
	"github.com/meshboard/meshboard/internal/radio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBusFanOut(t *testing.T) {
	t.Parallel()

	b := radio.NewBus()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	pkt := mesh.Packet{From: "!deadbeef", ID: 1, Text: "hello"}
	b.Publish(pkt)

	for i, sub := range []<-chan mesh.Packet{sub1, sub2} {
		select {
		case got := <-sub:
			if got != pkt {
				t.Errorf("sub%d got %+v", i+1, got)
			}
		default:
			t.Errorf("sub%d received nothing", i+1)
		}
	}
}

func TestBusDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	b := radio.NewBus()
	_ = b.Subscribe() // never drained

	// Publishing more than the buffer size must not block.
	for i := 0; i < 100; i++ {
		b.Publish(mesh.Packet{ID: uint32(i + 1)})
	}
}

func TestBusReset(t *testing.T) {
	t.Parallel()

	b := radio.NewBus()
	sub := b.Subscribe()
	b.Reset()

	if _, open := <-sub; open {
		t.Error("subscription should be closed after Reset")
	}

	// Publishing after reset is a no-op.
	b.Publish(mesh.Packet{ID: 1})
}
