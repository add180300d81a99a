package gateway

import (
	"context"
	"log/slog"
	"time"
)

// Watchdog reopens the radio link when the receive side has been silent
// for longer than the configured threshold. The RX clock starting at zero
// means a gateway on a dead-quiet channel never reconnect-loops; the
// clock is reset after each reconnect for the same reason.
func (g *Gateway) Watchdog(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.WatchTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.checkRxStale(ctx)
		}
	}
}

// checkRxStale performs one watchdog evaluation.
func (g *Gateway) checkRxStale(ctx context.Context) {
	last := g.LastRx()
	if last.IsZero() {
		return
	}
	silent := time.Since(last)
	if silent <= g.cfg.RxStale() {
		return
	}

	g.logger.Warn("receive watchdog fired, reconnecting",
		slog.Duration("silent", silent),
		slog.Duration("threshold", g.cfg.RxStale()))

	g.reconnect(ctx)
}

// reconnect closes the current link and opens a fresh one. The packet pump
// notices the old link's channel closing and re-acquires; bus subscribers
// keep their subscriptions because the bus outlives the link.
func (g *Gateway) reconnect(ctx context.Context) {
	g.CloseLink()

	link, err := g.opener(ctx)
	if err != nil {
		g.logger.Error("reconnect failed, will retry on next watchdog tick",
			slog.String("error", err.Error()))
		return
	}

	g.linkMu.Lock()
	g.link = link
	g.linkMu.Unlock()

	// A fresh link has heard nothing yet; restart the staleness window
	// from now rather than firing again immediately.
	g.lastRx.Store(time.Now().Unix())
	g.metrics.LinkReconnects.Inc()
	g.logger.Info("radio link reopened")
}

// SyncTicker periodically advertises inventory to peers and reaps stale
// reassembly buffers.
func (g *Gateway) SyncTicker(ctx context.Context) error {
	if g.engine == nil {
		return nil
	}

	ticker := time.NewTicker(g.cfg.SyncPeriodInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.engine.BroadcastInventory(ctx)
			g.engine.GC(ctx)
		}
	}
}
