package gateway_test

import (
	"strings"
	"testing"

	"github.com/meshboard/meshboard/internal/gateway"
)

func TestPaginateSinglePage(t *testing.T) {
	t.Parallel()

	pages := gateway.Paginate("", []string{"one", "two"}, 140)
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	if pages[0] != "one\ntwo" {
		t.Errorf("page = %q", pages[0])
	}
	if strings.HasPrefix(pages[0], "(") {
		t.Error("single page must not carry a page prefix")
	}
}

func TestPaginateMultiPage(t *testing.T) {
	t.Parallel()

	lines := []string{
		"first line of the listing",
		"second line of the listing",
		"third line of the listing",
		"fourth line of the listing",
	}

	pages := gateway.Paginate("", lines, 60)
	if len(pages) < 2 {
		t.Fatalf("pages = %d, want >= 2", len(pages))
	}

	for i, page := range pages {
		if len(page) > 60 {
			t.Errorf("page %d length %d exceeds MTU", i, len(page))
		}
		if !strings.HasPrefix(page, "(") {
			t.Errorf("page %d missing prefix: %q", i, page)
		}
	}

	// Stripping prefixes and concatenating reconstructs the input lines.
	var got []string
	for _, page := range pages {
		_, body, ok := strings.Cut(page, ") ")
		if !ok {
			t.Fatalf("page without prefix: %q", page)
		}
		got = append(got, strings.Split(body, "\n")...)
	}
	if len(got) != len(lines) {
		t.Fatalf("reconstructed %d lines, want %d: %v", len(got), len(lines), got)
	}
	for i := range lines {
		if got[i] != lines[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], lines[i])
		}
	}
}

func TestPaginateTitleRepeats(t *testing.T) {
	t.Parallel()

	lines := []string{
		"alpha alpha alpha alpha",
		"beta beta beta beta beta",
		"gamma gamma gamma gamma",
	}

	pages := gateway.Paginate("[T]", lines, 40)
	if len(pages) < 2 {
		t.Fatalf("pages = %d, want >= 2", len(pages))
	}
	for i, page := range pages {
		if !strings.Contains(page, "[T]\n") {
			t.Errorf("page %d missing title: %q", i, page)
		}
	}
}

func TestPaginateOversizeLine(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 400)
	pages := gateway.Paginate("", []string{long}, 100)

	var rebuilt strings.Builder
	for i, page := range pages {
		if len(page) > 100 {
			t.Errorf("page %d length %d exceeds MTU", i, len(page))
		}
		body := page
		if _, rest, ok := strings.Cut(page, ") "); ok && strings.HasPrefix(page, "(") {
			body = rest
		}
		rebuilt.WriteString(strings.ReplaceAll(body, "\n", ""))
	}
	if rebuilt.String() != long {
		t.Error("hard-split pages do not reconstruct the oversize line")
	}
}

func TestPaginateEmpty(t *testing.T) {
	t.Parallel()

	pages := gateway.Paginate("", nil, 140)
	if len(pages) != 1 || pages[0] != "" {
		t.Errorf("pages = %q", pages)
	}

	pages = gateway.Paginate("[T]", nil, 140)
	if len(pages) != 1 || pages[0] != "[T]" {
		t.Errorf("pages = %q", pages)
	}
}
