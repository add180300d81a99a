// Package radio owns the attached-node side of the gateway: the Link
// contract the rest of the gateway consumes, the serial adapter that speaks
// the device's client API, and the event bus that forms the second receive
// path.
package radio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshboard/meshboard/internal/mesh"
)

// Stream framing constants for the device client API: every frame is
// START1 START2 followed by a 16-bit big-endian payload length.
const (
	start1 = 0x94
	start2 = 0xc3

	// maxFrameLen bounds a single client-API payload.
	maxFrameLen = 512
)

// broadcastNum is the node number meaning "everyone on the channel".
const broadcastNum = 0xffffffff

// textMessagePort is the application port number for plain text frames.
const textMessagePort = 1

// Field numbers of the slice of the device protocol the gateway speaks.
// Only these are decoded; everything else in a frame is skipped field by
// field, which keeps the codec forward-compatible with firmware additions.
const (
	fromRadioPacket         = 2
	fromRadioMyInfo         = 3
	fromRadioNodeInfo       = 4
	fromRadioConfigComplete = 7

	toRadioPacket       = 1
	toRadioWantConfigID = 3

	packetFrom    = 1
	packetTo      = 2
	packetDecoded = 4
	packetID      = 6
	packetRxTime  = 7
	packetWantAck = 10

	dataPortnum = 1
	dataPayload = 2

	myInfoNodeNum = 1

	nodeInfoNum       = 1
	nodeInfoUser      = 2
	nodeInfoLastHeard = 5

	userID        = 1
	userLongName  = 2
	userShortName = 3
)

// ErrFrameTooLarge indicates a stream frame longer than maxFrameLen.
var ErrFrameTooLarge = errors.New("frame exceeds maximum length")

// ErrMalformedFrame indicates an undecodable protobuf payload.
var ErrMalformedFrame = errors.New("malformed frame")

// -------------------------------------------------------------------------
// Stream framing
// -------------------------------------------------------------------------

// frameHeader renders the 4-byte stream header for a payload of length n.
func frameHeader(n int) [4]byte {
	var h [4]byte
	h[0] = start1
	h[1] = start2
	binary.BigEndian.PutUint16(h[2:], uint16(n))
	return h
}

// deframer is the incremental state machine that extracts payloads from
// the serial byte stream. Bytes outside a frame (boot logs, line noise)
// are discarded.
type deframer struct {
	state int // 0: want start1, 1: want start2, 2/3: length bytes, 4: payload
	need  int
	buf   []byte
}

// feed consumes one byte and returns a completed payload, or nil.
func (d *deframer) feed(b byte) []byte {
	switch d.state {
	case 0:
		if b == start1 {
			d.state = 1
		}
	case 1:
		if b == start2 {
			d.state = 2
		} else if b != start1 {
			d.state = 0
		}
	case 2:
		d.need = int(b) << 8
		d.state = 3
	case 3:
		d.need |= int(b)
		if d.need == 0 || d.need > maxFrameLen {
			d.state = 0
			return nil
		}
		d.buf = make([]byte, 0, d.need)
		d.state = 4
	case 4:
		d.buf = append(d.buf, b)
		if len(d.buf) == d.need {
			payload := d.buf
			d.buf = nil
			d.state = 0
			return payload
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Decoded frames
// -------------------------------------------------------------------------

// event is one decoded FromRadio frame, reduced to the variants the
// gateway consumes.
type event struct {
	// packet is set for text packets.
	packet *mesh.Packet

	// myNodeNum is set (nonzero) for my_info frames.
	myNodeNum uint32

	// node is set for node_info frames.
	node *mesh.NodeEntry

	// configComplete is true when the node DB download finished.
	configComplete bool
}

// decodeFromRadio walks one FromRadio payload. Frames the gateway does not
// consume decode to a zero event, not an error.
func decodeFromRadio(payload []byte) (event, error) {
	var ev event

	if err := walkFields(payload, func(num protowire.Number, val []byte) error {
		switch num {
		case fromRadioPacket:
			pkt, ok, err := decodeMeshPacket(val)
			if err != nil {
				return err
			}
			if ok {
				ev.packet = &pkt
			}
		case fromRadioMyInfo:
			n, err := decodeMyInfo(val)
			if err != nil {
				return err
			}
			ev.myNodeNum = n
		case fromRadioNodeInfo:
			node, err := decodeNodeInfo(val)
			if err != nil {
				return err
			}
			ev.node = &node
		case fromRadioConfigComplete:
			ev.configComplete = true
		}
		return nil
	}); err != nil {
		return event{}, err
	}

	return ev, nil
}

// decodeMeshPacket extracts a text packet. ok is false for non-text
// packets (positions, telemetry, encrypted payloads we cannot read).
func decodeMeshPacket(b []byte) (mesh.Packet, bool, error) {
	var pkt mesh.Packet
	var fromNum uint32
	var toNum uint32
	isText := false

	err := walkFields(b, func(num protowire.Number, val []byte) error {
		switch num {
		case packetFrom:
			fromNum = uint32(decodeVarintField(val))
		case packetTo:
			toNum = uint32(decodeVarintField(val))
		case packetID:
			pkt.ID = uint32(decodeVarintField(val))
		case packetRxTime:
			pkt.RxTime = uint32(decodeVarintField(val))
		case packetDecoded:
			text, ok, err := decodeData(val)
			if err != nil {
				return err
			}
			if ok {
				pkt.Text = text
				isText = true
			}
		}
		return nil
	})
	if err != nil {
		return mesh.Packet{}, false, err
	}
	if !isText {
		return mesh.Packet{}, false, nil
	}

	pkt.From = mesh.CanonicalNum(fromNum)
	if toNum == broadcastNum || toNum == 0 {
		pkt.To = mesh.Broadcast
	} else {
		pkt.To = mesh.CanonicalNum(toNum)
	}
	return pkt, true, nil
}

// decodeData extracts the payload of a Data message when its port is the
// text application.
func decodeData(b []byte) (string, bool, error) {
	port := uint64(0)
	var payload []byte

	err := walkFields(b, func(num protowire.Number, val []byte) error {
		switch num {
		case dataPortnum:
			port = decodeVarintField(val)
		case dataPayload:
			payload = val
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if port != textMessagePort || payload == nil {
		return "", false, nil
	}
	return mesh.DecodeText(payload), true, nil
}

func decodeMyInfo(b []byte) (uint32, error) {
	var num uint32
	err := walkFields(b, func(fn protowire.Number, val []byte) error {
		if fn == myInfoNodeNum {
			num = uint32(decodeVarintField(val))
		}
		return nil
	})
	return num, err
}

func decodeNodeInfo(b []byte) (mesh.NodeEntry, error) {
	var node mesh.NodeEntry
	err := walkFields(b, func(fn protowire.Number, val []byte) error {
		switch fn {
		case nodeInfoNum:
			node.Num = uint32(decodeVarintField(val))
		case nodeInfoLastHeard:
			node.LastHeard = uint32(decodeVarintField(val))
		case nodeInfoUser:
			return walkFields(val, func(un protowire.Number, uval []byte) error {
				switch un {
				case userID:
					// Directory keys are heterogeneous in the wild;
					// canonicalize here and fall back to the node number.
					if id, err := mesh.CanonicalID(string(uval)); err == nil {
						node.ID = id
					}
				case userLongName:
					node.LongName = mesh.DecodeText(uval)
				case userShortName:
					node.ShortName = mesh.DecodeText(uval)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return mesh.NodeEntry{}, err
	}
	if node.ID == "" {
		node.ID = mesh.CanonicalNum(node.Num)
	}
	return node, nil
}

// -------------------------------------------------------------------------
// Encoding
// -------------------------------------------------------------------------

// encodeTextPacket builds a ToRadio frame carrying one text packet.
// dest is a canonical node id or mesh.Broadcast. id should be unique per
// send so receivers can dedup.
func encodeTextPacket(dest string, text string, id uint32) ([]byte, error) {
	toNum := uint32(broadcastNum)
	if dest != mesh.Broadcast {
		n, err := mesh.ParseNum(dest)
		if err != nil {
			return nil, fmt.Errorf("encode packet dest: %w", err)
		}
		toNum = n
	}

	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, textMessagePort)
	data = protowire.AppendTag(data, dataPayload, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte(text))

	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetTo, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, uint64(toNum))
	pkt = protowire.AppendTag(pkt, packetDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)
	pkt = protowire.AppendTag(pkt, packetID, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, uint64(id))

	var to []byte
	to = protowire.AppendTag(to, toRadioPacket, protowire.BytesType)
	to = protowire.AppendBytes(to, pkt)
	return to, nil
}

// encodeWantConfig builds the ToRadio handshake frame that asks the device
// to stream its node DB and my_info.
func encodeWantConfig(nonce uint32) []byte {
	var to []byte
	to = protowire.AppendTag(to, toRadioWantConfigID, protowire.VarintType)
	to = protowire.AppendVarint(to, uint64(nonce))
	return to
}

// -------------------------------------------------------------------------
// protowire plumbing
// -------------------------------------------------------------------------

// walkFields iterates the top-level fields of a protobuf payload. Varint
// fields are re-encoded to their raw varint bytes so a single callback
// signature serves both scalar and message fields; unknown wire types are
// skipped.
func walkFields(b []byte, fn func(num protowire.Number, val []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", ErrMalformedFrame)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume varint: %w", ErrMalformedFrame)
			}
			if err := fn(num, protowire.AppendVarint(nil, v)); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume bytes: %w", ErrMalformedFrame)
			}
			if err := fn(num, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("consume fixed32: %w", ErrMalformedFrame)
			}
			b = b[n:]
		case protowire.Fixed64Type:
			_, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("consume fixed64: %w", ErrMalformedFrame)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("consume field: %w", ErrMalformedFrame)
			}
			b = b[n:]
		}
	}
	return nil
}

// decodeVarintField decodes the raw varint bytes produced by walkFields.
func decodeVarintField(b []byte) uint64 {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0
	}
	return v
}
