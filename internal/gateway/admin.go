package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/meshboard/meshboard/internal/mesh"
	"github.com/meshboard/meshboard/internal/store"
)

// adminOnlyReply is sent to non-admins attempting admin actions.
const adminOnlyReply = "admin only"

// isAdmin applies the admin predicate: membership in the admin set, or
// bootstrap mode while the set is empty. Bootstrap acceptance is logged
// loudly every time — it exists to prevent lockout on a fresh install,
// not to run that way forever.
func (g *Gateway) isAdmin(ctx context.Context, id string) bool {
	ok, err := g.store.IsAdmin(ctx, id)
	if err != nil {
		g.logger.Warn("admin check failed", slog.String("error", err.Error()))
		return false
	}
	if ok {
		return true
	}

	n, err := g.store.AdminCount(ctx)
	if err != nil {
		g.logger.Warn("admin count failed", slog.String("error", err.Error()))
		return false
	}
	if n == 0 {
		g.logger.Warn("bootstrap mode: admin action accepted from unlisted sender; set admins",
			slog.String("from", id))
		return true
	}
	return false
}

// requireAdmin gates a handler, replying "admin only" on refusal.
func (g *Gateway) requireAdmin(ctx context.Context, from string) bool {
	if g.isAdmin(ctx, from) {
		return true
	}
	g.reply(ctx, from, "", adminOnlyReply)
	return false
}

// -------------------------------------------------------------------------
// Set management: admins / bl / peer
// -------------------------------------------------------------------------

// setOps groups the store operations the three set commands share.
type setOps struct {
	usage  string
	add    func(context.Context, string) error
	del    func(context.Context, string) error
	list   func(context.Context) ([]string, error)
	listed string
}

func (g *Gateway) handleAdmins(ctx context.Context, from string, args []string) {
	g.handleSet(ctx, from, args, setOps{
		usage:  "usage: admins add|del|list [id]",
		add:    g.store.AddAdmin,
		del:    g.store.RemoveAdmin,
		list:   g.store.Admins,
		listed: "admins",
	})
}

func (g *Gateway) handleBlacklist(ctx context.Context, from string, args []string) {
	g.handleSet(ctx, from, args, setOps{
		usage:  "usage: bl add|del|list [id]",
		add:    g.store.AddBlacklist,
		del:    g.store.RemoveBlacklist,
		list:   g.store.Blacklist,
		listed: "blacklist",
	})
}

func (g *Gateway) handlePeers(ctx context.Context, from string, args []string) {
	g.handleSet(ctx, from, args, setOps{
		usage:  "usage: peer add|del|list [id]",
		add:    g.store.AddPeer,
		del:    g.store.RemovePeer,
		list:   g.store.Peers,
		listed: "peers",
	})
}

// handleSet implements the shared add/del/list grammar. All mutations are
// idempotent, so repeating a command is always safe.
func (g *Gateway) handleSet(ctx context.Context, from string, args []string, ops setOps) {
	if !g.requireAdmin(ctx, from) {
		return
	}
	if len(args) == 0 {
		g.reply(ctx, from, "", ops.usage)
		return
	}

	verb := strings.ToLower(args[0])
	switch verb {
	case "list":
		ids, err := ops.list(ctx)
		if err != nil {
			g.logger.Warn("set list failed", slog.String("error", err.Error()))
			return
		}
		if len(ids) == 0 {
			g.reply(ctx, from, "", fmt.Sprintf("(%s empty)", ops.listed))
			return
		}
		g.reply(ctx, from, "", ids...)

	case "add", "del":
		if len(args) < 2 {
			g.reply(ctx, from, "", ops.usage)
			return
		}
		id, err := mesh.CanonicalID(args[1])
		if err != nil {
			g.reply(ctx, from, "", fmt.Sprintf("bad id '%s'", args[1]))
			return
		}

		op := ops.add
		if verb == "del" {
			op = ops.del
		}
		if err := op(ctx, id); err != nil {
			g.logger.Warn("set mutation failed", slog.String("error", err.Error()))
			return
		}
		g.reply(ctx, from, "", fmt.Sprintf("%s %s %s", ops.listed, verb, id))

	default:
		g.reply(ctx, from, "", ops.usage)
	}
}

// -------------------------------------------------------------------------
// sync / info set / health
// -------------------------------------------------------------------------

// handleSync services "sync now|on|off".
func (g *Gateway) handleSync(ctx context.Context, from string, args []string) {
	if !g.requireAdmin(ctx, from) {
		return
	}
	if g.engine == nil || len(args) == 0 {
		g.reply(ctx, from, "", "usage: sync now|on|off")
		return
	}

	switch strings.ToLower(args[0]) {
	case "now":
		g.engine.BroadcastInventory(ctx)
		g.reply(ctx, from, "", "inventory sent")
	case "on":
		g.engine.SetEnabled(true)
		g.reply(ctx, from, "", "sync on")
	case "off":
		g.engine.SetEnabled(false)
		g.reply(ctx, from, "", "sync off")
	default:
		g.reply(ctx, from, "", "usage: sync now|on|off")
	}
}

// handleInfoSet services "info set [hours] <text>". With a leading hours
// argument the notice self-expires.
func (g *Gateway) handleInfoSet(ctx context.Context, from string, args []string) {
	if !g.requireAdmin(ctx, from) {
		return
	}
	if len(args) == 0 {
		g.reply(ctx, from, "", "usage: info set [hours] <text>")
		return
	}

	var expires int64
	if hours, err := strconv.Atoi(args[0]); err == nil && hours > 0 && len(args) > 1 {
		expires = time.Now().Unix() + int64(hours)*3600
		args = args[1:]
	}

	text := strings.Join(args, " ")
	nowTS := time.Now().Unix()

	if err := g.store.SetKV(ctx, store.KeyNotice, text); err != nil {
		g.logger.Error("set notice failed", slog.String("error", err.Error()))
		return
	}
	if err := g.store.SetKV(ctx, store.KeyNoticeTS, strconv.FormatInt(nowTS, 10)); err != nil {
		g.logger.Error("set notice_ts failed", slog.String("error", err.Error()))
	}

	if expires > 0 {
		if err := g.store.SetKV(ctx, store.KeyNoticeExpiresTS, strconv.FormatInt(expires, 10)); err != nil {
			g.logger.Error("set notice expiry failed", slog.String("error", err.Error()))
		}
		g.reply(ctx, from, "", "notice set (with expiry)")
		return
	}

	if err := g.store.DeleteKV(ctx, store.KeyNoticeExpiresTS); err != nil {
		g.logger.Warn("clear notice expiry failed", slog.String("error", err.Error()))
	}
	g.reply(ctx, from, "", "notice set")
}

// handleHealth services "health [full]". Admin-gated unless the operator
// made it public.
func (g *Gateway) handleHealth(ctx context.Context, from string, args []string) {
	if !g.cfg.HealthPublic && !g.requireAdmin(ctx, from) {
		return
	}

	counts, err := g.store.TableCounts(ctx)
	if err != nil {
		g.logger.Warn("health counts failed", slog.String("error", err.Error()))
		return
	}

	syncState := "off"
	if g.engine != nil && g.engine.Enabled() {
		syncState = "on"
	}

	rxAge := "never"
	if last := g.LastRx(); !last.IsZero() {
		rxAge = fmt.Sprintf("%ds", int(time.Since(last).Seconds()))
	}

	if len(args) == 0 || !strings.EqualFold(args[0], "full") {
		g.reply(ctx, from, "", fmt.Sprintf("%s up %s posts %d dm %d rx %s sync %s",
			g.cfg.Name, formatUptime(g.Uptime()), counts.Posts, counts.PendingDMs, rxAge, syncState))
		return
	}

	lines := []string{
		fmt.Sprintf("up %s", formatUptime(g.Uptime())),
		fmt.Sprintf("posts %d", counts.Posts),
		fmt.Sprintf("dm pending %d", counts.PendingDMs),
		fmt.Sprintf("admins %d bl %d", counts.Admins, counts.Blacklist),
		fmt.Sprintf("peers %d sync %s", counts.Peers, syncState),
		fmt.Sprintf("applied uids %d rx bufs %d", counts.Applied, counts.RxBuffers),
		fmt.Sprintf("last rx %s", rxAge),
		fmt.Sprintf("nodes seen %d", len(g.nodeDirectory())),
	}
	g.reply(ctx, from, fmt.Sprintf("[%s health]", g.cfg.Name), lines...)
}
