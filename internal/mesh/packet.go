package mesh

import "fmt"

// Packet is one inbound text frame after the link adapter has decoded it.
// From is always in canonical "!hhhhhhhh" form.
type Packet struct {
	// From is the canonical sender id.
	From string

	// To is the canonical destination id, or Broadcast.
	To string

	// ID is the transport packet id, zero when the radio did not supply one.
	ID uint32

	// RxTime is the radio's receive timestamp in epoch seconds, zero when
	// not supplied.
	RxTime uint32

	// Text is the decoded UTF-8 payload.
	Text string
}

// Discriminator returns the dedup key used to suppress duplicate deliveries
// across the direct and bus receive paths. The packet id is preferred;
// (from, rxTime) is the fallback for radios that omit ids.
func (p Packet) Discriminator() string {
	if p.ID != 0 {
		return fmt.Sprintf("id:%d", p.ID)
	}
	return fmt.Sprintf("%s:%d", p.From, p.RxTime)
}

// NodeEntry is one row of the radio's node directory as surfaced by the
// link adapter. ID is canonical; names are as the radio advertises them.
type NodeEntry struct {
	ID        string
	Num       uint32
	ShortName string
	LongName  string
	LastHeard uint32
}

// NodeInfo describes the attached radio itself.
type NodeInfo struct {
	ID        string
	Num       uint32
	ShortName string
	LongName  string
}
