package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/meshboard/meshboard/internal/store"
)

// unknownReply is the terse nudge for unrecognized commands.
const unknownReply = "unknown. send ? for menu"

// recentListLen is how many posts "r" shows.
const recentListLen = 10

// route dispatches one normalized command line.
func (g *Gateway) route(ctx context.Context, from, line string) {
	fields := strings.Fields(line)
	keyword := strings.ToLower(fields[0])
	body := strings.Join(fields[1:], " ")

	g.metrics.CommandDispatched(keyword)

	switch keyword {
	case "r":
		if body == "" {
			g.handleReadList(ctx, from)
		} else {
			g.handleReadPost(ctx, from, body)
		}
	case "p", "post":
		g.handlePost(ctx, from, body)
	case "reply":
		g.handleReply(ctx, from, body)
	case "info":
		if len(fields) > 1 && strings.EqualFold(fields[1], "set") {
			g.handleInfoSet(ctx, from, fields[2:])
			return
		}
		g.sendNotice(ctx, from, true)
	case "status":
		g.handleStatus(ctx, from)
	case "whoami":
		g.handleWhoami(ctx, from)
	case "whois":
		g.handleWhois(ctx, from, body)
	case "nodes":
		g.handleNodes(ctx, from)
	case "dm":
		g.handleDM(ctx, from, fields[1:])
	case "?":
		g.sendNotice(ctx, from, false)
		g.reply(ctx, from, "", BuildMenu(g.cfg.Name, g.cfg.MaxText))
	case "menu":
		g.reply(ctx, from, "", BuildMenu(g.cfg.Name, g.cfg.MaxText))
	case "??", "help":
		g.reply(ctx, from, "", helpLines()...)
	case "admins":
		g.handleAdmins(ctx, from, fields[1:])
	case "bl":
		g.handleBlacklist(ctx, from, fields[1:])
	case "peer":
		g.handlePeers(ctx, from, fields[1:])
	case "sync":
		g.handleSync(ctx, from, fields[1:])
	case "health":
		g.handleHealth(ctx, from, fields[1:])
	default:
		if g.cfg.UnknownReply {
			g.reply(ctx, from, "", unknownReply)
		}
	}
}

// -------------------------------------------------------------------------
// Board commands
// -------------------------------------------------------------------------

// handleReadList pages the last posts, newest first.
func (g *Gateway) handleReadList(ctx context.Context, from string) {
	posts, err := g.store.RecentPosts(ctx, recentListLen)
	if err != nil {
		g.logger.Warn("recent posts failed", slog.String("error", err.Error()))
		return
	}
	if len(posts) == 0 {
		g.reply(ctx, from, "", "(no posts yet. p <text> to post)")
		return
	}

	lines := make([]string, len(posts))
	for i, p := range posts {
		lines[i] = g.postLine(p)
	}
	g.reply(ctx, from, "", lines...)
}

// handleReadPost shows one post with its replies in id order.
func (g *Gateway) handleReadPost(ctx context.Context, from, arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		g.reply(ctx, from, "", "usage: r <id>")
		return
	}

	p, err := g.store.PostByID(ctx, id)
	if errors.Is(err, store.ErrPostNotFound) {
		g.reply(ctx, from, "", fmt.Sprintf("no post #%d", id))
		return
	}
	if err != nil {
		g.logger.Warn("post lookup failed", slog.String("error", err.Error()))
		return
	}

	lines := []string{
		fmt.Sprintf("#%d %s %s:", p.ID, g.postTime(p.TS), p.Author),
		p.Body,
	}

	replies, err := g.store.Replies(ctx, id)
	if err != nil {
		g.logger.Warn("replies lookup failed", slog.String("error", err.Error()))
	}
	for _, r := range replies {
		lines = append(lines, fmt.Sprintf("↳ #%d %s %s: %s", r.ID, g.postTime(r.TS), r.Author, r.Body))
	}

	g.reply(ctx, from, "", lines...)
}

// handlePost creates a post and replicates it.
func (g *Gateway) handlePost(ctx context.Context, from, body string) {
	if body == "" {
		g.reply(ctx, from, "", "usage: p <text>")
		return
	}

	id, err := g.store.CreatePost(ctx, 0, from, body, nil)
	if err != nil {
		g.logger.Error("create post failed", slog.String("error", err.Error()))
		return
	}

	g.reply(ctx, from, "", fmt.Sprintf("posted #%d", id))
	g.pushToPeers(ctx, id)
}

// handleReply creates a threaded post under an existing parent.
func (g *Gateway) handleReply(ctx context.Context, from, body string) {
	idArg, text, _ := strings.Cut(body, " ")
	parent, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil || text == "" {
		g.reply(ctx, from, "", "usage: reply <id> <text>")
		return
	}

	if _, err := g.store.PostByID(ctx, parent); errors.Is(err, store.ErrPostNotFound) {
		g.reply(ctx, from, "", fmt.Sprintf("no post #%d", parent))
		return
	} else if err != nil {
		g.logger.Warn("parent lookup failed", slog.String("error", err.Error()))
		return
	}

	id, err := g.store.CreatePost(ctx, 0, from, text, &parent)
	if err != nil {
		g.logger.Error("create reply failed", slog.String("error", err.Error()))
		return
	}

	g.reply(ctx, from, "", fmt.Sprintf("reply #%d -> #%d", id, parent))
	g.pushToPeers(ctx, id)
}

// pushToPeers eagerly replicates a freshly created post.
func (g *Gateway) pushToPeers(ctx context.Context, id int64) {
	if g.engine == nil {
		return
	}
	p, err := g.store.PostByID(ctx, id)
	if err != nil {
		g.logger.Warn("push lookup failed", slog.String("error", err.Error()))
		return
	}
	g.engine.PushPost(ctx, p)
}

// postLine renders one list row: #id mm-dd HH:MM author: body.
func (g *Gateway) postLine(p store.Post) string {
	return fmt.Sprintf("#%d %s %s: %s", p.ID, g.postTime(p.TS), p.Author, p.Body)
}
