// Package gateway is the command surface of the board: packet intake and
// dual-path dedup, per-sender rate limiting, command dispatch, paged
// replies, the DM store-and-forward queue, and the link supervisor.
package gateway

import "fmt"

// Paginate splits lines into pages of at most mtu bytes. Every page starts
// with the title (when non-empty); lines are appended greedily and a line
// that will not fit starts the next page. Pages get an "(i/N) " prefix
// only when there is more than one. A single line longer than the page
// budget is hard-split so no frame ever exceeds the MTU.
func Paginate(title string, lines []string, mtu int) []string {
	// Reserve room for the widest plausible page prefix up front; the
	// prefix is not known until the page count is.
	const prefixReserve = len("(99/99) ")

	budget := mtu - prefixReserve
	if budget < 8 {
		budget = 8
	}

	bodies := fillPages(title, lines, budget)
	if len(bodies) == 1 {
		// Single page: no prefix is added; the page already fits within
		// the reserved budget.
		return bodies
	}

	pages := make([]string, len(bodies))
	for i, body := range bodies {
		pages[i] = fmt.Sprintf("(%d/%d) %s", i+1, len(bodies), body)
	}
	return pages
}

// fillPages greedily packs lines into page bodies of at most budget bytes.
func fillPages(title string, lines []string, budget int) []string {
	var pages []string
	cur := ""

	flush := func() {
		if cur != "" {
			pages = append(pages, cur)
			cur = ""
		}
	}

	appendLine := func(line string) {
		candidate := line
		if cur != "" {
			candidate = cur + "\n" + line
		} else if title != "" {
			candidate = title + "\n" + line
		}
		if len(candidate) <= budget {
			cur = candidate
			return
		}
		flush()
		if title != "" {
			cur = title + "\n" + line
		} else {
			cur = line
		}
	}

	for _, line := range lines {
		for _, piece := range splitOversize(line, budget, title) {
			appendLine(piece)
		}
	}
	flush()

	if len(pages) == 0 {
		if title != "" {
			return []string{title}
		}
		return []string{""}
	}
	return pages
}

// splitOversize hard-wraps a line that cannot fit on a page even alone.
func splitOversize(line string, budget int, title string) []string {
	max := budget
	if title != "" {
		max -= len(title) + 1
	}
	if max < 4 {
		max = 4
	}
	if len(line) <= max {
		return []string{line}
	}

	var pieces []string
	for len(line) > max {
		pieces = append(pieces, line[:max])
		line = line[max:]
	}
	if line != "" {
		pieces = append(pieces, line)
	}
	return pieces
}
