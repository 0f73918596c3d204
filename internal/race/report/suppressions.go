package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Suppressions matches reports against user-provided patterns. The same
// format serves both the suppressions file (matched at report time) and
// the ignore_regions file (matched before tracking):
//
//	# comment
//	race:substring-of-function-or-file
//	addr:0x1000-0x2000
type Suppressions struct {
	funcs []string
	addrs [][2]uintptr
}

// LoadSuppressions reads a suppression file. A missing path ("") yields an
// empty, never-matching set.
func LoadSuppressions(path string) (*Suppressions, error) {
	s := &Suppressions{}
	if path == "" {
		return s, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := s.parse(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Suppressions) parse(r io.Reader) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		kind, arg, ok := strings.Cut(text, ":")
		if !ok {
			return fmt.Errorf("line %d: %q has no kind prefix", line, text)
		}
		switch kind {
		case "race":
			if arg == "" {
				return fmt.Errorf("line %d: empty race pattern", line)
			}
			s.funcs = append(s.funcs, arg)
		case "addr":
			lo, hi, err := parseAddrRange(arg)
			if err != nil {
				return fmt.Errorf("line %d: %v", line, err)
			}
			s.addrs = append(s.addrs, [2]uintptr{lo, hi})
		default:
			return fmt.Errorf("line %d: unknown kind %q", line, kind)
		}
	}
	return sc.Err()
}

func parseAddrRange(arg string) (uintptr, uintptr, error) {
	loStr, hiStr, ok := strings.Cut(arg, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not lo-hi", arg)
	}
	lo, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(loStr), "0x"), 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad low address %q", loStr)
	}
	hi, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(hiStr), "0x"), 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad high address %q", hiStr)
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("range %q is inverted", arg)
	}
	return uintptr(lo), uintptr(hi), nil
}

// Empty reports whether no patterns are loaded.
func (s *Suppressions) Empty() bool {
	return len(s.funcs) == 0 && len(s.addrs) == 0
}

// ContainsAddr reports whether addr falls inside any suppressed range.
//
//go:nosplit
func (s *Suppressions) ContainsAddr(addr uintptr) bool {
	for _, r := range s.addrs {
		if addr >= r[0] && addr <= r[1] {
			return true
		}
	}
	return false
}

// MatchFrames reports whether any frame's function or file contains one of
// the race patterns.
func (s *Suppressions) MatchFrames(frames []Frame) bool {
	for _, pat := range s.funcs {
		for _, f := range frames {
			if f.Func != "" && strings.Contains(f.Func, pat) {
				return true
			}
			if f.File != "" && strings.Contains(f.File, pat) {
				return true
			}
		}
	}
	return false
}
