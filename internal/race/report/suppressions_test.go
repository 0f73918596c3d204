package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supp.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadSuppressionsEmptyPath yields an empty set.
func TestLoadSuppressionsEmptyPath(t *testing.T) {
	s, err := LoadSuppressions("")
	if err != nil {
		t.Fatalf("LoadSuppressions(\"\") error: %v", err)
	}
	if !s.Empty() {
		t.Error("empty path produced non-empty suppressions")
	}
}

// TestLoadSuppressionsPatterns parses race and addr lines, skipping
// comments and blanks.
func TestLoadSuppressionsPatterns(t *testing.T) {
	path := writeFile(t, `
# benign races in the allocator
race:myalloc
race:third_party/noisy.go

addr:0x1000-0x1fff
`)
	s, err := LoadSuppressions(path)
	if err != nil {
		t.Fatalf("LoadSuppressions error: %v", err)
	}
	if s.Empty() {
		t.Fatal("suppressions empty after load")
	}

	if !s.MatchFrames([]Frame{{Func: "pkg.myalloc_fast"}}) {
		t.Error("MatchFrames missed function substring")
	}
	if !s.MatchFrames([]Frame{{File: "/src/third_party/noisy.go"}}) {
		t.Error("MatchFrames missed file substring")
	}
	if s.MatchFrames([]Frame{{Func: "main.main", File: "/src/main.go"}}) {
		t.Error("MatchFrames matched an unrelated frame")
	}

	if !s.ContainsAddr(0x1000) || !s.ContainsAddr(0x1fff) {
		t.Error("ContainsAddr missed range endpoints")
	}
	if s.ContainsAddr(0xfff) || s.ContainsAddr(0x2000) {
		t.Error("ContainsAddr matched outside the range")
	}
}

// TestLoadSuppressionsErrors rejects malformed lines.
func TestLoadSuppressionsErrors(t *testing.T) {
	cases := []struct {
		content string
		errPart string
	}{
		{"nonsense\n", "no kind prefix"},
		{"bogus:x\n", "unknown kind"},
		{"race:\n", "empty race pattern"},
		{"addr:0x10\n", "not lo-hi"},
		{"addr:0x20-0x10\n", "inverted"},
		{"addr:zz-0x10\n", "bad low address"},
	}
	for _, c := range cases {
		_, err := LoadSuppressions(writeFile(t, c.content))
		if err == nil || !strings.Contains(err.Error(), c.errPart) {
			t.Errorf("LoadSuppressions(%q) error = %v, want containing %q", c.content, err, c.errPart)
		}
	}
}
