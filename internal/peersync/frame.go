// Package peersync replicates posts between cooperating gateways over the
// mesh text channel. The protocol is gossip-shaped: peers advertise their
// most recent post ids, pull what they are missing, and transfer bodies in
// MTU-sized chunks identified by an opaque per-transfer UID. Dedup is by
// UID, never by post id — id sequences are gateway-local.
package peersync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel prefixes every sync frame on the wire.
const Sentinel = "#SYNC"

// Verb names the five frame kinds.
type Verb string

// Frame verbs.
const (
	VerbInv  Verb = "INV"
	VerbGet  Verb = "GET"
	VerbPost Verb = "POST"
	VerbPart Verb = "PART"
	VerbEnd  Verb = "END"
)

// Frame parse errors.
var (
	// ErrNotSync indicates the line does not carry the sync sentinel.
	ErrNotSync = errors.New("not a sync frame")

	// ErrMalformed indicates a frame that carries the sentinel but cannot
	// be parsed. Such frames are dropped silently by the engine.
	ErrMalformed = errors.New("malformed sync frame")
)

// Frame is one parsed sync frame. Fields are populated per verb:
//
//	INV:  IDs
//	GET:  ID
//	POST: UID, ID, TS, By, ReplyTo (nil for "-"), Total
//	PART: UID, Index, Total, Chunk
//	END:  UID
type Frame struct {
	Verb    Verb
	IDs     []int64
	ID      int64
	UID     string
	TS      int64
	By      string
	ReplyTo *int64
	Total   int
	Index   int
	Chunk   string
}

// IsSync reports whether the text is a sync frame (cheap prefix test used
// by the dispatcher right after the DM flush, before any other processing).
func IsSync(text string) bool {
	return strings.HasPrefix(text, Sentinel)
}

// Parse decodes one frame. Unknown k=v tokens are tolerated; unknown verbs
// and missing mandatory tokens are ErrMalformed.
func Parse(text string) (Frame, error) {
	if !IsSync(text) {
		return Frame{}, ErrNotSync
	}

	rest := strings.TrimSpace(text[len(Sentinel):])
	verb, rest, _ := strings.Cut(rest, " ")

	switch Verb(verb) {
	case VerbInv:
		return parseInv(rest)
	case VerbGet:
		return parseGet(rest)
	case VerbPost:
		return parsePost(rest)
	case VerbPart:
		return parsePart(rest)
	case VerbEnd:
		return parseEnd(rest)
	default:
		return Frame{}, fmt.Errorf("verb %q: %w", verb, ErrMalformed)
	}
}

func parseInv(rest string) (Frame, error) {
	kv := tokenMap(rest)
	raw, ok := kv["ids"]
	if !ok || raw == "" {
		return Frame{}, fmt.Errorf("inv without ids: %w", ErrMalformed)
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return Frame{}, fmt.Errorf("inv id %q: %w", part, ErrMalformed)
		}
		ids = append(ids, id)
	}
	return Frame{Verb: VerbInv, IDs: ids}, nil
}

func parseGet(rest string) (Frame, error) {
	kv := tokenMap(rest)
	id, err := strconv.ParseInt(kv["id"], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("get id: %w", ErrMalformed)
	}
	return Frame{Verb: VerbGet, ID: id}, nil
}

func parsePost(rest string) (Frame, error) {
	kv := tokenMap(rest)

	f := Frame{Verb: VerbPost, UID: kv["uid"], By: kv["by"]}
	if f.UID == "" || f.By == "" {
		return Frame{}, fmt.Errorf("post header incomplete: %w", ErrMalformed)
	}

	var err error
	if f.ID, err = strconv.ParseInt(kv["id"], 10, 64); err != nil {
		return Frame{}, fmt.Errorf("post id: %w", ErrMalformed)
	}
	if f.TS, err = strconv.ParseInt(kv["ts"], 10, 64); err != nil {
		return Frame{}, fmt.Errorf("post ts: %w", ErrMalformed)
	}
	if f.Total, err = strconv.Atoi(kv["n"]); err != nil || f.Total < 1 {
		return Frame{}, fmt.Errorf("post n: %w", ErrMalformed)
	}

	if r := kv["r"]; r != "" && r != "-" {
		parent, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return Frame{}, fmt.Errorf("post r: %w", ErrMalformed)
		}
		f.ReplyTo = &parent
	}
	return f, nil
}

// parsePart handles "uid=<U> <i>/<T> <chunk>"; the chunk is everything
// after the index token, verbatim — it may contain spaces and k=v-shaped
// text.
func parsePart(rest string) (Frame, error) {
	uidTok, rest, ok := strings.Cut(rest, " ")
	if !ok || !strings.HasPrefix(uidTok, "uid=") {
		return Frame{}, fmt.Errorf("part without uid: %w", ErrMalformed)
	}

	idxTok, chunk, _ := strings.Cut(rest, " ")
	iStr, tStr, ok := strings.Cut(idxTok, "/")
	if !ok {
		return Frame{}, fmt.Errorf("part index %q: %w", idxTok, ErrMalformed)
	}

	idx, err := strconv.Atoi(iStr)
	if err != nil || idx < 1 {
		return Frame{}, fmt.Errorf("part index %q: %w", iStr, ErrMalformed)
	}
	total, err := strconv.Atoi(tStr)
	if err != nil || total < 1 {
		return Frame{}, fmt.Errorf("part total %q: %w", tStr, ErrMalformed)
	}

	return Frame{
		Verb:  VerbPart,
		UID:   strings.TrimPrefix(uidTok, "uid="),
		Index: idx,
		Total: total,
		Chunk: chunk,
	}, nil
}

func parseEnd(rest string) (Frame, error) {
	kv := tokenMap(rest)
	if kv["uid"] == "" {
		return Frame{}, fmt.Errorf("end without uid: %w", ErrMalformed)
	}
	return Frame{Verb: VerbEnd, UID: kv["uid"]}, nil
}

// tokenMap splits whitespace-separated k=v tokens. Tokens without '=' are
// ignored, which is what tolerates future protocol additions.
func tokenMap(rest string) map[string]string {
	kv := make(map[string]string)
	for _, tok := range strings.Fields(rest) {
		if k, v, ok := strings.Cut(tok, "="); ok {
			if _, dup := kv[k]; !dup {
				kv[k] = v
			}
		}
	}
	return kv
}

// -------------------------------------------------------------------------
// Formatting
// -------------------------------------------------------------------------

// FormatInv renders an inventory advertisement. ids must be ascending.
func FormatInv(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s %s ids=%s", Sentinel, VerbInv, strings.Join(parts, ","))
}

// FormatGet renders a pull request for one post id.
func FormatGet(id int64) string {
	return fmt.Sprintf("%s %s id=%d", Sentinel, VerbGet, id)
}

// FormatPost renders a transfer header. replyTo may be nil.
func FormatPost(uid string, id, ts int64, by string, replyTo *int64, total int) string {
	r := "-"
	if replyTo != nil {
		r = strconv.FormatInt(*replyTo, 10)
	}
	return fmt.Sprintf("%s %s uid=%s id=%d ts=%d by=%s r=%s n=%d",
		Sentinel, VerbPost, uid, id, ts, by, r, total)
}

// FormatPart renders the idx-th chunk of a transfer.
func FormatPart(uid string, idx, total int, chunk string) string {
	return fmt.Sprintf("%s %s uid=%s %d/%d %s", Sentinel, VerbPart, uid, idx, total, chunk)
}

// FormatEnd renders the transfer trailer.
func FormatEnd(uid string) string {
	return fmt.Sprintf("%s %s uid=%s", Sentinel, VerbEnd, uid)
}
