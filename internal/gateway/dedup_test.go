package gateway

import (
	"fmt"
	"testing"
)

func TestDedupFIFO(t *testing.T) {
	t.Parallel()

	d := newDedupFIFO()

	if d.observe("a") {
		t.Fatal("first observation must not be a duplicate")
	}
	if !d.observe("a") {
		t.Fatal("second observation must be a duplicate")
	}
}

func TestDedupFIFOEviction(t *testing.T) {
	t.Parallel()

	d := newDedupFIFO()
	d.observe("first")

	// Fill past capacity; "first" ages out.
	for i := 0; i < dedupCapacity; i++ {
		d.observe(fmt.Sprintf("filler-%d", i))
	}

	if d.observe("first") {
		t.Error("evicted discriminator should read as fresh")
	}

	// Recent entries are still deduplicated.
	if !d.observe(fmt.Sprintf("filler-%d", dedupCapacity-1)) {
		t.Error("recent discriminator lost from the window")
	}
}
