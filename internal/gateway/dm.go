package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// handleDM services "dm <short> <text>": resolve the short name against
// the live node directory, then queue for store-and-forward delivery.
func (g *Gateway) handleDM(ctx context.Context, from string, args []string) {
	if len(args) < 2 {
		g.reply(ctx, from, "", "usage: dm <name> <text>")
		return
	}

	short := args[0]
	body := strings.Join(args[1:], " ")

	n, ok := g.resolveShort(short)
	if !ok {
		g.reply(ctx, from, "", fmt.Sprintf("no node with short '%s'", short))
		return
	}

	if _, err := g.store.EnqueueDM(ctx, n.ID, body); err != nil {
		g.logger.Error("enqueue dm failed", slog.String("error", err.Error()))
		return
	}
	g.metrics.DMsQueued.Inc()

	g.reply(ctx, from, "", fmt.Sprintf("queued dm to %s (%s)", n.ShortName, n.ID))
}

// flushDMs drains up to dmFlushCap queued DMs to a sender we just heard
// from. Runs before every other dispatch step — even a blacklisted or
// rate-limited sender gets its mail, by design. Rows are marked delivered
// only after the send succeeded; a failed send retries on next sighting.
func (g *Gateway) flushDMs(ctx context.Context, to string) {
	ttl := time.Duration(g.cfg.DMTTLHours) * time.Hour
	pending, err := g.store.PendingDMs(ctx, to, dmFlushCap, ttl)
	if err != nil {
		g.logger.Warn("dm queue read failed", slog.String("error", err.Error()))
		return
	}

	for _, d := range pending {
		if err := g.Send(ctx, to, "[DM] "+d.Body); err != nil {
			g.logger.Warn("dm delivery failed",
				slog.String("to", to),
				slog.Int64("dm", d.ID),
				slog.String("error", err.Error()))
			return
		}
		if err := g.store.MarkDMDelivered(ctx, d.ID); err != nil {
			g.logger.Error("mark dm delivered failed",
				slog.Int64("dm", d.ID),
				slog.String("error", err.Error()))
			return
		}
		g.metrics.DMsDelivered.Inc()
		g.logger.Info("dm delivered", slog.String("to", to), slog.Int64("dm", d.ID))
	}
}
