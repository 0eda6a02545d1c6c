// Package highlight marks search matches in rendered terminal text.
package highlight

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

type Result struct {
	Text  string
	Count int
	// LineIndex lists the lines holding at least one match, ascending.
	LineIndex []int
}

// Apply highlights case-insensitive occurrences of query in rendered, which
// may carry ANSI styling. Matching is done on the visible text, so a match
// may span styled segments. A styled line that matches is re-emitted as
// plain text with only the matches wrapped.
func Apply(rendered, query string, wrap func(string) string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Text: rendered}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	lines := strings.Split(rendered, "\n")
	res := Result{LineIndex: make([]int, 0, 16)}
	for i, line := range lines {
		plain := ansi.Strip(line)
		marked, n := mark(plain, query, wrap)
		if n > 0 {
			lines[i] = marked
			res.Count += n
			res.LineIndex = append(res.LineIndex, i)
		}
	}
	res.Text = strings.Join(lines, "\n")
	return res
}

// mark wraps case-insensitive occurrences of query in s. Matching compares
// rune windows with strings.EqualFold so every slice is taken from s itself;
// lowercasing can change a string's byte length.
func mark(s, query string, wrap func(string) string) (string, int) {
	n := utf8.RuneCountInString(query)
	starts := make([]int, 0, len(s)+1)
	for i := range s {
		starts = append(starts, i)
	}
	starts = append(starts, len(s))

	var out strings.Builder
	count, last := 0, 0
	for r := 0; r+n < len(starts); {
		from, to := starts[r], starts[r+n]
		if !strings.EqualFold(s[from:to], query) {
			r++
			continue
		}
		out.WriteString(s[last:from])
		out.WriteString(wrap(s[from:to]))
		count++
		last = to
		r += n
	}
	if count == 0 {
		return s, 0
	}
	out.WriteString(s[last:])
	return out.String(), count
}

// Step moves through matching lines. dir > 0 picks the first match after
// current, dir < 0 the last one before it; both wrap around. It returns -1
// when lines is empty.
func Step(lines []int, current, dir int) int {
	if len(lines) == 0 {
		return -1
	}
	if dir >= 0 {
		for _, l := range lines {
			if l > current {
				return l
			}
		}
		return lines[0]
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] < current {
			return lines[i]
		}
	}
	return lines[len(lines)-1]
}
