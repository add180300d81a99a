package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/meshboard/meshboard/internal/mesh"
)

// DeviceAuto asks the adapter to probe the usual serial candidates.
const DeviceAuto = "auto"

// serialBaud is the client-API baud rate the firmware listens on.
const serialBaud = 115200

// wakeLen is the number of START2 bytes written before the handshake to
// flush the device out of any half-read frame.
const wakeLen = 32

// ErrNoDevice indicates no serial candidate could be opened.
var ErrNoDevice = errors.New("no radio device found")

// SerialConfig configures the serial link adapter.
type SerialConfig struct {
	// Device is an explicit serial path, or DeviceAuto to probe.
	Device string

	// TXGap is the minimum wall time between transmissions.
	TXGap time.Duration

	// Bus, when non-nil, receives every inbound packet as the second
	// receive path.
	Bus *Bus

	Logger *slog.Logger
}

// SerialLink speaks the device client API over a serial port and
// implements Link.
type SerialLink struct {
	port   serial.Port
	path   string
	txGap  time.Duration
	bus    *Bus
	logger *slog.Logger

	packets chan mesh.Packet

	sendMu   sync.Mutex
	lastTX   time.Time
	packetID atomic.Uint32

	nodesMu sync.RWMutex
	nodes   map[uint32]mesh.NodeEntry
	selfNum uint32
	selfOK  bool

	closeOnce sync.Once
	closeErr  error
}

// OpenSerial opens the radio at cfg.Device (probing when DeviceAuto),
// performs the node-DB handshake, and starts the reader.
func OpenSerial(_ context.Context, cfg SerialConfig) (*SerialLink, error) {
	path, port, err := openPort(cfg.Device)
	if err != nil {
		return nil, err
	}

	l := &SerialLink{
		port:    port,
		path:    path,
		txGap:   cfg.TXGap,
		bus:     cfg.Bus,
		logger:  cfg.Logger.With(slog.String("component", "radio"), slog.String("device", path)),
		packets: make(chan mesh.Packet, 32),
		nodes:   make(map[uint32]mesh.NodeEntry),
	}
	l.packetID.Store(uint32(time.Now().UnixNano()))

	if err := l.handshake(); err != nil {
		_ = port.Close()
		return nil, err
	}

	go l.readLoop()

	l.logger.Info("radio link opened")
	return l, nil
}

// openPort opens the configured device, or probes the candidate list.
func openPort(device string) (string, serial.Port, error) {
	mode := &serial.Mode{BaudRate: serialBaud}

	if device != DeviceAuto {
		port, err := serial.Open(device, mode)
		if err != nil {
			return "", nil, fmt.Errorf("open %s: %w", device, err)
		}
		return device, port, nil
	}

	for _, candidate := range probeCandidates() {
		port, err := serial.Open(candidate, mode)
		if err == nil {
			return candidate, port, nil
		}
	}
	return "", nil, ErrNoDevice
}

// probeCandidates returns the serial paths tried for DeviceAuto, stable
// symlinks first.
func probeCandidates() []string {
	var out []string

	byID, _ := filepath.Glob("/dev/serial/by-id/*")
	sort.Strings(byID)
	out = append(out, byID...)

	for i := 0; i < 4; i++ {
		out = append(out, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for i := 0; i < 4; i++ {
		out = append(out, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	return out
}

// handshake wakes the device and requests its node DB. The node directory
// and self info stream in asynchronously; the gateway tolerates an empty
// directory until they arrive.
func (l *SerialLink) handshake() error {
	wake := make([]byte, wakeLen)
	for i := range wake {
		wake[i] = start2
	}
	if _, err := l.port.Write(wake); err != nil {
		return fmt.Errorf("wake device: %w", err)
	}

	nonce := l.packetID.Add(1)
	if err := l.writeFrame(encodeWantConfig(nonce)); err != nil {
		return fmt.Errorf("want_config handshake: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Link implementation
// -------------------------------------------------------------------------

// Send encodes and transmits one text frame, enforcing the TX gap. Sends
// from concurrent handlers serialize on the internal mutex.
func (l *SerialLink) Send(ctx context.Context, dest, text string) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if wait := l.txGap - time.Since(l.lastTX); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("send to %s: %w", dest, ctx.Err())
		}
	}

	payload, err := encodeTextPacket(dest, text, l.packetID.Add(1))
	if err != nil {
		return err
	}
	if err := l.writeFrame(payload); err != nil {
		return fmt.Errorf("send to %s: %w", dest, err)
	}

	l.lastTX = time.Now()
	l.logger.Debug("frame sent", slog.String("to", dest), slog.Int("len", len(text)))
	return nil
}

// writeFrame writes one framed client-API payload.
func (l *SerialLink) writeFrame(payload []byte) error {
	if len(payload) > maxFrameLen {
		return ErrFrameTooLarge
	}
	header := frameHeader(len(payload))
	if _, err := l.port.Write(header[:]); err != nil {
		return err
	}
	if _, err := l.port.Write(payload); err != nil {
		return err
	}
	return nil
}

// Packets returns the direct receive path.
func (l *SerialLink) Packets() <-chan mesh.Packet { return l.packets }

// Nodes returns a snapshot of the node directory, unsorted.
func (l *SerialLink) Nodes() []mesh.NodeEntry {
	l.nodesMu.RLock()
	defer l.nodesMu.RUnlock()

	out := make([]mesh.NodeEntry, 0, len(l.nodes))
	for _, n := range l.nodes {
		out = append(out, n)
	}
	return out
}

// Self describes the attached radio once my_info (and ideally its own
// node_info) has arrived.
func (l *SerialLink) Self() (mesh.NodeInfo, bool) {
	l.nodesMu.RLock()
	defer l.nodesMu.RUnlock()

	if !l.selfOK {
		return mesh.NodeInfo{}, false
	}
	info := mesh.NodeInfo{
		Num: l.selfNum,
		ID:  mesh.CanonicalNum(l.selfNum),
	}
	if entry, ok := l.nodes[l.selfNum]; ok {
		info.ShortName = entry.ShortName
		info.LongName = entry.LongName
	}
	return info, true
}

// Close tears down the port. The reader exits on the resulting read error
// and closes the packet channel.
func (l *SerialLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.port.Close()
		l.logger.Info("radio link closed")
	})
	return l.closeErr
}

// -------------------------------------------------------------------------
// Reader
// -------------------------------------------------------------------------

// readLoop pumps the serial byte stream through the deframer and decoder
// until the port errors (close or unplug).
func (l *SerialLink) readLoop() {
	defer close(l.packets)

	d := &deframer{}
	buf := make([]byte, 256)

	for {
		n, err := l.port.Read(buf)
		if err != nil {
			l.logger.Debug("serial read ended", slog.String("error", err.Error()))
			return
		}

		for _, b := range buf[:n] {
			payload := d.feed(b)
			if payload == nil {
				continue
			}
			l.handleFrame(payload)
		}
	}
}

// handleFrame decodes one FromRadio payload and dispatches it.
func (l *SerialLink) handleFrame(payload []byte) {
	ev, err := decodeFromRadio(payload)
	if err != nil {
		l.logger.Debug("undecodable frame dropped", slog.String("error", err.Error()))
		return
	}

	switch {
	case ev.packet != nil:
		l.deliver(*ev.packet)
	case ev.myNodeNum != 0:
		l.nodesMu.Lock()
		l.selfNum = ev.myNodeNum
		l.selfOK = true
		l.nodesMu.Unlock()
		l.logger.Info("radio identity", slog.String("id", mesh.CanonicalNum(ev.myNodeNum)))
	case ev.node != nil:
		l.nodesMu.Lock()
		l.nodes[ev.node.Num] = *ev.node
		l.nodesMu.Unlock()
	case ev.configComplete:
		l.logger.Info("node directory loaded", slog.Int("nodes", len(l.Nodes())))
	}
}

// deliver pushes the packet to both receive paths. The direct channel is
// buffered; when the consumer has fallen behind the oldest packet is
// shed rather than blocking the serial reader.
func (l *SerialLink) deliver(pkt mesh.Packet) {
	select {
	case l.packets <- pkt:
	default:
		select {
		case <-l.packets:
		default:
		}
		select {
		case l.packets <- pkt:
		default:
		}
	}

	if l.bus != nil {
		l.bus.Publish(pkt)
	}
}
