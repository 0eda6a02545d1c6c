package highlight

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApply_CaseInsensitive(t *testing.T) {
	in := "Cask count\nno match here\nsecond cask\n"
	res := Apply(in, "cask", func(s string) string { return "[[" + s + "]]" })

	if res.Count != 2 {
		t.Fatalf("expected 2 matches, got %d", res.Count)
	}
	if len(res.LineIndex) != 2 || res.LineIndex[0] != 0 || res.LineIndex[1] != 2 {
		t.Fatalf("unexpected line indexes: %#v", res.LineIndex)
	}
	if !strings.Contains(res.Text, "[[Cask]]") || !strings.Contains(res.Text, "[[cask]]") {
		t.Fatalf("highlight wrapper not applied: %q", res.Text)
	}
	if !strings.HasSuffix(res.Text, "\n") {
		t.Fatalf("trailing newline lost: %q", res.Text)
	}
}

func TestApply_MatchesAcrossStyledSegments(t *testing.T) {
	in := "he\x1b[31mll\x1b[0mo world"
	res := Apply(in, "hello", func(s string) string { return "<" + s + ">" })
	if res.Count != 1 {
		t.Fatalf("expected 1 match, got %d", res.Count)
	}
	if res.Text != "<hello> world" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestApply_LeavesNonMatchingStyledLines(t *testing.T) {
	in := "\x1b[1mtitle\x1b[0m\nbody"
	res := Apply(in, "body", nil)
	if !strings.HasPrefix(res.Text, "\x1b[1mtitle\x1b[0m\n") {
		t.Fatalf("styling removed from non-matching line: %q", res.Text)
	}
}

func TestApply_EmptyQuery(t *testing.T) {
	res := Apply("abc", "  ", nil)
	if res.Text != "abc" || res.Count != 0 {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestStep(t *testing.T) {
	lines := []int{3, 10, 25}
	cases := []struct {
		current, dir, want int
	}{
		{current: -1, dir: 1, want: 3},
		{current: 3, dir: 1, want: 10},
		{current: 25, dir: 1, want: 3},
		{current: 10, dir: -1, want: 3},
		{current: 3, dir: -1, want: 25},
	}
	for _, tc := range cases {
		if got := Step(lines, tc.current, tc.dir); got != tc.want {
			t.Fatalf("Step(%d, %d) = %d, want %d", tc.current, tc.dir, got, tc.want)
		}
	}
	if got := Step(nil, 0, 1); got != -1 {
		t.Fatalf("expected -1 for no matches, got %d", got)
	}
}

func TestApply_MultipleMatchesPerLine(t *testing.T) {
	in := "cask and CASK\nnone\ncasks"
	res := Apply(in, "cask", func(s string) string { return "*" + s + "*" })

	want := Result{
		Text:      "*cask* and *CASK*\nnone\n*cask*s",
		Count:     3,
		LineIndex: []int{0, 2},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("Apply mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_FoldingThatChangesByteLength(t *testing.T) {
	wrap := func(s string) string { return "<" + s + ">" }
	cases := []struct {
		in, query, want string
		count           int
	}{
		{in: "Ⱥ x", query: "x", want: "Ⱥ <x>", count: 1},
		{in: "ȺȺ y", query: "ⱥ", want: "<Ⱥ><Ⱥ> y", count: 2},
		{in: "\u212aKab", query: "k", want: "<\u212a><K>ab", count: 2},
		{in: "\u212aKab", query: "kab", want: "\u212a<Kab>", count: 1},
		{in: "ab\u212a", query: "b", want: "a<b>\u212a", count: 1},
	}
	for _, tc := range cases {
		res := Apply(tc.in, tc.query, wrap)
		if res.Text != tc.want || res.Count != tc.count {
			t.Fatalf("Apply(%q, %q) = %q (%d), want %q (%d)", tc.in, tc.query, res.Text, res.Count, tc.want, tc.count)
		}
	}
}
