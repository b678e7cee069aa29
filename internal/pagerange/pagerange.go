// Package pagerange parses page-range expressions such as "3-6,8,10-12" and
// re-bases them onto the coordinate space of a trimmed document.
package pagerange

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RangeFormatError reports a token that cannot be read as a page or span.
type RangeFormatError struct {
	Token  string
	Reason string
}

func (e *RangeFormatError) Error() string {
	return fmt.Sprintf("invalid page range token %q: %s", e.Token, e.Reason)
}

// MaxPage is the highest page number an expression may name when the
// document size is not known.
const MaxPage = 100000

// Pages returns the sorted, de-duplicated 1-based pages named by expr.
// An empty expression yields no pages. Pages above MaxPage are rejected.
func Pages(expr string) ([]int, error) {
	return expand(expr, MaxPage, fmt.Sprintf("pages above %d are not supported", MaxPage))
}

// expand checks every token against limit before any span is materialised.
func expand(expr string, limit int, reason string) ([]int, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	type span struct{ start, end int }
	var spans []span
	for _, raw := range strings.Split(expr, ",") {
		token := strings.TrimSpace(raw)
		start, end, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		if end > limit {
			return nil, &RangeFormatError{Token: token, Reason: reason}
		}
		spans = append(spans, span{start, end})
	}
	seen := make(map[int]struct{})
	for _, sp := range spans {
		for p := sp.start; ; p++ {
			seen[p] = struct{}{}
			if p == sp.end {
				break
			}
		}
	}
	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func parseToken(token string) (int, int, error) {
	if token == "" {
		return 0, 0, &RangeFormatError{Token: token, Reason: "empty token"}
	}
	if !strings.Contains(token, "-") {
		p, err := parsePage(token)
		if err != nil {
			return 0, 0, err
		}
		return p, p, nil
	}
	parts := strings.Split(token, "-")
	if len(parts) != 2 {
		return 0, 0, &RangeFormatError{Token: token, Reason: "span must be start-end"}
	}
	start, err := parsePage(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, &RangeFormatError{Token: token, Reason: "bad span start"}
	}
	end, err := parsePage(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, &RangeFormatError{Token: token, Reason: "bad span end"}
	}
	if start > end {
		return 0, 0, &RangeFormatError{Token: token, Reason: "start is greater than end"}
	}
	return start, end, nil
}

func parsePage(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, &RangeFormatError{Token: s, Reason: "not an integer"}
	}
	if p < 1 {
		return 0, &RangeFormatError{Token: s, Reason: "pages are numbered from 1"}
	}
	return p, nil
}

// Parse expands expr into sorted 0-based page indices of a document with
// totalPages pages. An empty expression selects every page. When totalPages
// is positive, pages beyond the end of the document are rejected before any
// span is expanded.
func Parse(expr string, totalPages int) ([]int, error) {
	if strings.TrimSpace(expr) == "" {
		indices := make([]int, 0, max(totalPages, 0))
		for i := 0; i < totalPages; i++ {
			indices = append(indices, i)
		}
		return indices, nil
	}
	limit, reason := MaxPage, fmt.Sprintf("pages above %d are not supported", MaxPage)
	if totalPages > 0 {
		limit, reason = totalPages, fmt.Sprintf("document has %d pages", totalPages)
	}
	pages, err := expand(expr, limit, reason)
	if err != nil {
		return nil, err
	}
	indices := make([]int, len(pages))
	for i, p := range pages {
		indices[i] = p - 1
	}
	return indices, nil
}

// Normalize shifts expr so its lowest page becomes 1 and re-encodes it in
// compact run form, e.g. "3-6,8-10" becomes "1-4,6-8".
func Normalize(expr string) (string, error) {
	pages, err := Pages(expr)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", nil
	}
	shift := pages[0] - 1
	for i := range pages {
		pages[i] -= shift
	}
	return Encode(pages), nil
}

// Encode renders sorted 1-based pages as comma-separated runs: consecutive
// pages collapse into "start-end", isolated pages stay single.
func Encode(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	var runs []string
	start, end := pages[0], pages[0]
	flush := func() {
		if start == end {
			runs = append(runs, strconv.Itoa(start))
		} else {
			runs = append(runs, strconv.Itoa(start)+"-"+strconv.Itoa(end))
		}
	}
	for _, p := range pages[1:] {
		if p == end+1 {
			end = p
			continue
		}
		flush()
		start, end = p, p
	}
	flush()
	return strings.Join(runs, ",")
}
