package peersync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/meshboard/meshboard/internal/store"
)

// getCap bounds how many missing ids one inventory may trigger pulls for.
// Caps uplink amplification when a fresh gateway meets a full board.
const getCap = 3

// SendFunc transmits one text frame to a canonical node id. The engine
// sends to peers directly, never broadcast.
type SendFunc func(ctx context.Context, dest, text string) error

// Reporter is the slice of the metrics collector the engine feeds.
type Reporter interface {
	SyncFrameReceived(verb string)
	SyncFrameSent(verb string)
	SyncPostApplied()
	SyncPostPushed()
}

// noopReporter is used when no metrics are wired.
type noopReporter struct{}

func (noopReporter) SyncFrameReceived(string) {}
func (noopReporter) SyncFrameSent(string)     {}
func (noopReporter) SyncPostApplied()         {}
func (noopReporter) SyncPostPushed()          {}

// Config configures the replication engine.
type Config struct {
	Store *store.Store
	Send  SendFunc

	// InvWindow is how many recent post ids an inventory advertises.
	InvWindow int

	// ChunkSize is the maximum PART chunk in bytes.
	ChunkSize int

	// RxTTL is the age after which incomplete reassembly buffers are
	// reaped.
	RxTTL time.Duration

	// Enabled is the initial replication state.
	Enabled bool

	Metrics Reporter
	Logger  *slog.Logger
}

// Engine implements both sides of the replication protocol. All methods
// are safe for concurrent use; the engine coordinates through the store.
type Engine struct {
	store     *store.Store
	send      SendFunc
	invWindow int
	chunkSize int
	rxTTL     time.Duration
	metrics   Reporter
	logger    *slog.Logger

	enabled atomic.Bool
}

// New creates an Engine.
func New(cfg Config) *Engine {
	m := cfg.Metrics
	if m == nil {
		m = noopReporter{}
	}

	e := &Engine{
		store:     cfg.Store,
		send:      cfg.Send,
		invWindow: cfg.InvWindow,
		chunkSize: cfg.ChunkSize,
		rxTTL:     cfg.RxTTL,
		metrics:   m,
		logger:    cfg.Logger.With(slog.String("component", "peersync")),
	}
	e.enabled.Store(cfg.Enabled)
	return e
}

// Enabled reports whether replication is on.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// SetEnabled flips replication on or off ("sync on"/"sync off").
func (e *Engine) SetEnabled(v bool) { e.enabled.Store(v) }

// -------------------------------------------------------------------------
// Receive side
// -------------------------------------------------------------------------

// HandleFrame processes one inbound sync frame. Frames from senders not in
// the peer set are ignored; malformed frames are dropped silently. The
// engine handles frames even while disabled — disabling stops our own
// advertising, not a peer mid-transfer.
func (e *Engine) HandleFrame(ctx context.Context, fromID, text string) {
	isPeer, err := e.store.IsPeer(ctx, fromID)
	if err != nil {
		e.logger.Warn("peer check failed", slog.String("from", fromID), slog.String("error", err.Error()))
		return
	}
	if !isPeer {
		e.logger.Debug("sync frame from non-peer ignored", slog.String("from", fromID))
		return
	}

	f, err := Parse(text)
	if err != nil {
		e.logger.Debug("malformed sync frame dropped",
			slog.String("from", fromID), slog.String("error", err.Error()))
		return
	}

	if err := e.store.TouchPeer(ctx, fromID); err != nil {
		e.logger.Warn("touch peer failed", slog.String("from", fromID), slog.String("error", err.Error()))
	}
	e.metrics.SyncFrameReceived(string(f.Verb))

	switch f.Verb {
	case VerbInv:
		e.handleInv(ctx, fromID, f)
	case VerbGet:
		e.handleGet(ctx, fromID, f)
	case VerbPost:
		e.handlePost(ctx, fromID, f)
	case VerbPart:
		e.handlePart(ctx, f)
	case VerbEnd:
		e.handleEnd(ctx, fromID, f)
	}
}

// handleInv pulls up to getCap advertised ids we do not have.
func (e *Engine) handleInv(ctx context.Context, fromID string, f Frame) {
	missing, err := e.store.MissingPostIDs(ctx, f.IDs)
	if err != nil {
		e.logger.Warn("inventory diff failed", slog.String("error", err.Error()))
		return
	}
	if len(missing) > getCap {
		missing = missing[:getCap]
	}

	for _, id := range missing {
		e.transmit(ctx, fromID, VerbGet, FormatGet(id))
	}
}

// handleGet answers a pull with a fresh transfer of the requested post.
func (e *Engine) handleGet(ctx context.Context, fromID string, f Frame) {
	p, err := e.store.PostByID(ctx, f.ID)
	if errors.Is(err, store.ErrPostNotFound) {
		return
	}
	if err != nil {
		e.logger.Warn("get lookup failed", slog.Int64("id", f.ID), slog.String("error", err.Error()))
		return
	}
	e.pushTo(ctx, fromID, p)
}

// handlePost opens a reassembly buffer for the transfer. Transfers whose
// UID has already been applied are ignored entirely.
func (e *Engine) handlePost(ctx context.Context, fromID string, f Frame) {
	applied, err := e.store.IsAppliedUID(ctx, f.UID)
	if err != nil || applied {
		return
	}

	if err := e.store.MarkSeenUID(ctx, f.UID); err != nil {
		e.logger.Warn("mark seen failed", slog.String("uid", f.UID), slog.String("error", err.Error()))
		return
	}
	if err := e.store.CreateRxBuffer(ctx, f.UID, f.Total, fromID); err != nil {
		e.logger.Warn("create buffer failed", slog.String("uid", f.UID), slog.String("error", err.Error()))
	}
}

// handlePart buffers one chunk by its index. A part whose header never
// arrived is dropped; the next inventory cycle re-fetches the post under
// a fresh UID.
func (e *Engine) handlePart(ctx context.Context, f Frame) {
	applied, err := e.store.IsAppliedUID(ctx, f.UID)
	if err != nil || applied {
		return
	}

	err = e.store.AppendRxPart(ctx, f.UID, f.Index, f.Total, f.Chunk)
	if errors.Is(err, store.ErrBufferNotFound) {
		e.logger.Debug("part without header dropped", slog.String("uid", f.UID))
		return
	}
	if err != nil {
		e.logger.Warn("buffer part failed", slog.String("uid", f.UID), slog.String("error", err.Error()))
	}
}

// handleEnd assembles and applies the transfer. Replays and incomplete
// transfers both resolve to deleting the buffer; only a complete,
// never-applied transfer creates a post.
func (e *Engine) handleEnd(ctx context.Context, fromID string, f Frame) {
	applied, err := e.store.IsAppliedUID(ctx, f.UID)
	if err != nil {
		return
	}
	if applied {
		_ = e.store.DeleteRxBuffer(ctx, f.UID)
		return
	}

	b, err := e.store.GetRxBuffer(ctx, f.UID)
	if errors.Is(err, store.ErrBufferNotFound) {
		return
	}
	if err != nil {
		e.logger.Warn("load buffer failed", slog.String("uid", f.UID), slog.String("error", err.Error()))
		return
	}

	if !b.Complete() {
		e.logger.Warn("incomplete transfer abandoned",
			slog.String("uid", f.UID),
			slog.Int("got", b.Got),
			slog.Int("total", b.Total))
		_ = e.store.DeleteRxBuffer(ctx, f.UID)
		return
	}

	author := "[peer]" + fromID
	if _, err := e.store.CreatePost(ctx, time.Now().Unix(), author, b.Assemble(), nil); err != nil {
		e.logger.Error("apply replicated post failed", slog.String("uid", f.UID), slog.String("error", err.Error()))
		return
	}
	if err := e.store.MarkAppliedUID(ctx, f.UID); err != nil {
		e.logger.Error("mark applied failed", slog.String("uid", f.UID), slog.String("error", err.Error()))
	}
	_ = e.store.DeleteRxBuffer(ctx, f.UID)

	e.metrics.SyncPostApplied()
	e.logger.Info("replicated post applied", slog.String("uid", f.UID), slog.String("from", fromID))
}

// -------------------------------------------------------------------------
// Send side
// -------------------------------------------------------------------------

// BroadcastInventory advertises the recent post ids to every peer,
// unicast. A no-op while disabled or with no posts.
func (e *Engine) BroadcastInventory(ctx context.Context) {
	if !e.Enabled() {
		return
	}

	ids, err := e.store.RecentPostIDs(ctx, e.invWindow)
	if err != nil {
		e.logger.Warn("inventory query failed", slog.String("error", err.Error()))
		return
	}
	if len(ids) == 0 {
		return
	}

	peers, err := e.store.Peers(ctx)
	if err != nil {
		e.logger.Warn("peer list failed", slog.String("error", err.Error()))
		return
	}

	line := FormatInv(ids)
	for _, peer := range peers {
		e.transmit(ctx, peer, VerbInv, line)
	}
}

// PushPost eagerly replicates a locally created post to every peer.
// Receivers dedup by UID, so racing an inventory pull is harmless.
func (e *Engine) PushPost(ctx context.Context, p store.Post) {
	if !e.Enabled() {
		return
	}

	peers, err := e.store.Peers(ctx)
	if err != nil {
		e.logger.Warn("peer list failed", slog.String("error", err.Error()))
		return
	}

	for _, peer := range peers {
		e.pushTo(ctx, peer, p)
	}
}

// pushTo streams one post to one peer as a fresh transfer.
func (e *Engine) pushTo(ctx context.Context, dest string, p store.Post) {
	uid := NewUID()
	chunks := splitChunks(p.Body, e.chunkSize)

	e.transmit(ctx, dest, VerbPost, FormatPost(uid, p.ID, p.TS, p.Author, p.ReplyTo, len(chunks)))
	for i, chunk := range chunks {
		e.transmit(ctx, dest, VerbPart, FormatPart(uid, i+1, len(chunks), chunk))
	}
	e.transmit(ctx, dest, VerbEnd, FormatEnd(uid))

	e.metrics.SyncPostPushed()
	e.logger.Debug("post pushed",
		slog.Int64("id", p.ID),
		slog.String("to", dest),
		slog.String("uid", uid),
		slog.Int("parts", len(chunks)))
}

// transmit sends one frame, logging rather than surfacing failures: the
// protocol self-heals through the next inventory cycle.
func (e *Engine) transmit(ctx context.Context, dest string, verb Verb, line string) {
	if err := e.send(ctx, dest, line); err != nil {
		e.logger.Warn("sync send failed",
			slog.String("to", dest),
			slog.String("verb", string(verb)),
			slog.String("error", err.Error()))
		return
	}
	e.metrics.SyncFrameSent(string(verb))
}

// GC reaps reassembly buffers whose END never arrived. Called from the
// sync ticker.
func (e *Engine) GC(ctx context.Context) {
	n, err := e.store.GCRxBuffers(ctx, e.rxTTL)
	if err != nil {
		e.logger.Warn("rx buffer gc failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		e.logger.Info("stale rx buffers reaped", slog.Int64("count", n))
	}
}

// splitChunks splits body into chunks of at most size bytes, preferring
// rune boundaries so a multi-byte character never straddles two PARTs.
func splitChunks(body string, size int) []string {
	if body == "" {
		return []string{""}
	}

	var chunks []string
	for len(body) > 0 {
		if len(body) <= size {
			chunks = append(chunks, body)
			break
		}

		cut := size
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, body[:cut])
		body = body[cut:]
	}
	return chunks
}
