package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshboard/meshboard/internal/config"
	"github.com/meshboard/meshboard/internal/mesh"
	boardmetrics "github.com/meshboard/meshboard/internal/metrics"
	"github.com/meshboard/meshboard/internal/peersync"
	"github.com/meshboard/meshboard/internal/radio"
	"github.com/meshboard/meshboard/internal/store"
)

// ErrNoLink indicates a send was attempted while the link is down
// (mid-reconnect).
var ErrNoLink = errors.New("radio link is not open")

// dmFlushCap bounds how many queued DMs one sighting may deliver, so a
// returning node does not trigger a burst that blows the duty cycle.
const dmFlushCap = 3

// Gateway ties the data plane together: packets in, commands dispatched,
// replies paged out, DMs flushed, sync frames routed to the engine.
type Gateway struct {
	cfg     *config.Config
	store   *store.Store
	metrics *boardmetrics.Collector
	logger  *slog.Logger
	bus     *radio.Bus
	opener  radio.Opener

	// engine is set after construction (it sends through this gateway).
	engine *peersync.Engine

	linkMu sync.RWMutex
	link   radio.Link

	limiter *limiter
	dedup   *dedupFIFO

	// lastRx is the wall time (epoch seconds) of the last inbound packet;
	// zero until the first packet arrives.
	lastRx  atomic.Int64
	started time.Time
}

// New creates a Gateway. Call SetSyncEngine before starting the pump, and
// Start to open the radio link.
func New(
	cfg *config.Config,
	st *store.Store,
	metrics *boardmetrics.Collector,
	bus *radio.Bus,
	opener radio.Opener,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		cfg:     cfg,
		store:   st,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "gateway")),
		bus:     bus,
		opener:  opener,
		limiter: newLimiter(cfg.RateInterval()),
		dedup:   newDedupFIFO(),
		started: time.Now(),
	}
}

// SetSyncEngine wires the replication engine. The engine transmits through
// Send, so it is constructed after the gateway.
func (g *Gateway) SetSyncEngine(e *peersync.Engine) { g.engine = e }

// Start opens the initial radio link.
func (g *Gateway) Start(ctx context.Context) error {
	link, err := g.opener(ctx)
	if err != nil {
		return err
	}

	g.linkMu.Lock()
	g.link = link
	g.linkMu.Unlock()

	if self, ok := link.Self(); ok {
		g.logger.Info("gateway on the air",
			slog.String("id", self.ID),
			slog.String("short", self.ShortName),
			slog.String("long", self.LongName))
	}
	return nil
}

// CloseLink closes the current link, if any. Called last on shutdown.
func (g *Gateway) CloseLink() {
	g.linkMu.Lock()
	link := g.link
	g.link = nil
	g.linkMu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			g.logger.Warn("link close failed", slog.String("error", err.Error()))
		}
	}
}

// currentLink returns the live link, or nil mid-reconnect.
func (g *Gateway) currentLink() radio.Link {
	g.linkMu.RLock()
	defer g.linkMu.RUnlock()
	return g.link
}

// -------------------------------------------------------------------------
// Outbound
// -------------------------------------------------------------------------

// Send transmits one text frame through the current link. Transport
// failures are returned for logging only; the mesh offers no delivery
// guarantee the gateway could add to.
func (g *Gateway) Send(ctx context.Context, dest, text string) error {
	link := g.currentLink()
	if link == nil {
		return ErrNoLink
	}
	if err := link.Send(ctx, dest, text); err != nil {
		return err
	}
	g.metrics.FramesSent.Inc()
	return nil
}

// reply pages lines to dest under an optional title. Send failures are
// logged and the remaining pages abandoned — the sender will re-ask.
func (g *Gateway) reply(ctx context.Context, dest, title string, lines ...string) {
	for _, page := range Paginate(title, lines, g.cfg.MaxText) {
		if err := g.Send(ctx, dest, page); err != nil {
			g.logger.Warn("reply send failed",
				slog.String("to", dest),
				slog.String("error", err.Error()))
			return
		}
	}
}

// -------------------------------------------------------------------------
// Inbound
// -------------------------------------------------------------------------

// Pump consumes both receive paths until ctx is cancelled. When the direct
// channel closes (link closed or replaced), the pump re-acquires the
// current link and keeps going.
func (g *Gateway) Pump(ctx context.Context) error {
	busCh := g.bus.Subscribe()

	for {
		link := g.currentLink()
		if link == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
				continue
			}
		}

		direct := link.Packets()
	inner:
		for {
			select {
			case <-ctx.Done():
				return nil
			case pkt, ok := <-direct:
				if !ok {
					break inner
				}
				g.intake(ctx, pkt)
			case pkt, ok := <-busCh:
				if !ok {
					// Bus reset; resubscribe.
					busCh = g.bus.Subscribe()
				} else {
					g.intake(ctx, pkt)
				}
			}
		}

		// The direct channel closed: the link is being replaced. Back off
		// briefly so a link that stays down does not spin this loop.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// intake canonicalizes and deduplicates one packet, then hands its text to
// the dispatcher. Blacklisted senders are dropped later — intake still
// advances the RX clock for them, since the radio is demonstrably alive.
func (g *Gateway) intake(ctx context.Context, pkt mesh.Packet) {
	now := time.Now()
	g.lastRx.Store(now.Unix())
	g.metrics.LastRxSeconds.Set(float64(now.Unix()))

	if pkt.Text == "" {
		return
	}

	// The adapter canonicalizes packet senders, but directory-shaped ids
	// can sneak in through tests and future transports; normalize again.
	from, err := mesh.CanonicalID(pkt.From)
	if err != nil {
		g.logger.Debug("packet with bad sender dropped", slog.String("from", pkt.From))
		return
	}

	if self, ok := g.selfInfo(); ok && from == self.ID {
		return
	}

	if g.dedup.observe(pkt.Discriminator()) {
		g.metrics.PacketsDeduped.Inc()
		return
	}
	g.metrics.PacketsReceived.Inc()

	g.handleText(ctx, from, pkt.Text)
}

// handleText runs the dispatch pipeline in its fixed order: DM flush
// first (so peers recovering from outage drain even if later checks drop
// the command), then sync, blacklist, bypass, rate limit, route.
func (g *Gateway) handleText(ctx context.Context, from, text string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("handler panic recovered",
				slog.String("from", from),
				slog.Any("panic", r))
		}
	}()

	g.flushDMs(ctx, from)

	if peersync.IsSync(text) {
		if g.engine != nil {
			g.engine.HandleFrame(ctx, from, text)
		}
		return
	}

	blacklisted, err := g.store.IsBlacklisted(ctx, from)
	if err != nil {
		g.logger.Warn("blacklist check failed", slog.String("error", err.Error()))
		return
	}
	if blacklisted {
		g.metrics.BlacklistedDropped.Inc()
		return
	}

	normalized := normalize(text)
	if normalized == "" {
		return
	}

	if !isBypass(normalized) && !g.limiter.allow(from, time.Now()) {
		g.metrics.RateLimited.Inc()
		return
	}

	g.route(ctx, from, normalized)
}

// normalize trims and collapses internal whitespace. Keyword matching
// lowercases tokens individually; body arguments keep their case.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// selfInfo returns the radio's own identity when known.
func (g *Gateway) selfInfo() (mesh.NodeInfo, bool) {
	link := g.currentLink()
	if link == nil {
		return mesh.NodeInfo{}, false
	}
	return link.Self()
}

// LastRx returns the wall time of the last inbound packet, zero if none.
func (g *Gateway) LastRx() time.Time {
	sec := g.lastRx.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// Uptime reports how long the gateway has been running.
func (g *Gateway) Uptime() time.Duration { return time.Since(g.started) }

// SyncEnabled reports the replication engine state for status surfaces.
func (g *Gateway) SyncEnabled() bool {
	return g.engine != nil && g.engine.Enabled()
}

// LinkUp reports whether a radio link is currently open.
func (g *Gateway) LinkUp() bool { return g.currentLink() != nil }

// nodeDirectory returns the current link's node directory, empty when the
// link is down.
func (g *Gateway) nodeDirectory() []mesh.NodeEntry {
	link := g.currentLink()
	if link == nil {
		return nil
	}
	return link.Nodes()
}
