package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meshboard/meshboard/internal/mesh"
	"github.com/meshboard/meshboard/internal/store"
)

// postTime renders a persisted UTC timestamp in the configured zone as
// mm-dd HH:MM.
func (g *Gateway) postTime(ts int64) string {
	return time.Unix(ts, 0).In(g.cfg.Location()).Format("01-02 15:04")
}

// noticeTime renders the notice timestamp in the configured zone.
func (g *Gateway) noticeTime(ts int64) string {
	return time.Unix(ts, 0).In(g.cfg.Location()).Format("2006-01-02 15:04")
}

// sendNotice pages the notice to dest. With explicit set, the absence of a
// notice is reported; the "?" path stays silent about it.
func (g *Gateway) sendNotice(ctx context.Context, dest string, explicit bool) {
	notice, err := g.store.GetKV(ctx, store.KeyNotice)
	if errors.Is(err, store.ErrNoSuchKey) || notice == "" {
		if explicit {
			g.reply(ctx, dest, "", "(no notice set)")
		}
		return
	}
	if err != nil {
		g.logger.Warn("notice lookup failed", slog.String("error", err.Error()))
		return
	}

	if g.noticeExpired(ctx) {
		if explicit {
			g.reply(ctx, dest, "", "(no notice set)")
		}
		return
	}

	title := "[Notice]"
	if raw, err := g.store.GetKV(ctx, store.KeyNoticeTS); err == nil {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			title = fmt.Sprintf("[Notice %s]", g.noticeTime(ts))
		}
	}

	g.reply(ctx, dest, title, notice)
}

// noticeExpired checks the optional expiry stamp.
func (g *Gateway) noticeExpired(ctx context.Context) bool {
	raw, err := g.store.GetKV(ctx, store.KeyNoticeExpiresTS)
	if err != nil {
		return false
	}
	expires, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Unix() >= expires
}

// helpLines is the paged "??" output.
func helpLines() []string {
	return []string{
		"r - last 10 posts",
		"r <id> - post with replies",
		"p <text> - post",
		"reply <id> <text> - reply to post",
		"info - read notice",
		"status - node status",
		"whoami - your id",
		"whois <name> - find node by short name",
		"nodes - known nodes",
		"dm <name> <text> - queue a dm",
		"? - menu",
		"admin: admins/bl/peer add|del|list, sync now|on|off, info set, health",
	}
}

// handleStatus replies with the radio identity and uptime.
func (g *Gateway) handleStatus(ctx context.Context, from string) {
	long, short := "?", "?"
	if self, ok := g.selfInfo(); ok {
		if self.LongName != "" {
			long = self.LongName
		}
		if self.ShortName != "" {
			short = self.ShortName
		}
	}
	g.reply(ctx, from, "", fmt.Sprintf("%s / %s / up %s", long, short, formatUptime(g.Uptime())))
}

// handleWhoami replies with the sender's canonical id and directory names.
func (g *Gateway) handleWhoami(ctx context.Context, from string) {
	for _, n := range g.nodeDirectory() {
		if n.ID == from {
			g.reply(ctx, from, "", fmt.Sprintf("%s (%s / %s)", from, n.ShortName, n.LongName))
			return
		}
	}
	g.reply(ctx, from, "", from)
}

// handleWhois looks a node up by short name, case-insensitively.
func (g *Gateway) handleWhois(ctx context.Context, from, short string) {
	if short == "" {
		g.reply(ctx, from, "", "usage: whois <name>")
		return
	}

	n, ok := g.resolveShort(short)
	if !ok {
		g.reply(ctx, from, "", fmt.Sprintf("no node with short '%s'", short))
		return
	}
	g.reply(ctx, from, "", fmt.Sprintf("%s = %s (%s)", n.ShortName, n.ID, n.LongName))
}

// handleNodes pages the directory sorted by short name.
func (g *Gateway) handleNodes(ctx context.Context, from string) {
	nodes := g.nodeDirectory()
	if len(nodes) == 0 {
		g.reply(ctx, from, "", "(no nodes)")
		return
	}

	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].ShortName) < strings.ToLower(nodes[j].ShortName)
	})

	lines := make([]string, len(nodes))
	for i, n := range nodes {
		lines[i] = fmt.Sprintf("%s %s %s", n.ShortName, n.ID, n.LongName)
	}
	g.reply(ctx, from, "", lines...)
}

// resolveShort scans the live directory for a short name. The directory is
// read at call time, so a node becomes resolvable as soon as the radio has
// heard it; a short name not yet in the directory does not resolve.
func (g *Gateway) resolveShort(short string) (mesh.NodeEntry, bool) {
	for _, n := range g.nodeDirectory() {
		if strings.EqualFold(n.ShortName, short) {
			return n, true
		}
	}
	return mesh.NodeEntry{}, false
}

// formatUptime renders a duration as XhYm.
func formatUptime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
