package config

import (
	"strings"
	"testing"
)

// TestParseEmpty returns the defaults.
func TestParseEmpty(t *testing.T) {
	opts, err := Parse("")
	if err != nil {
		t.Fatalf("Parse(\"\") error: %v", err)
	}
	def := Default()
	if opts.HistorySize != def.HistorySize || opts.MaxReportedRaces != def.MaxReportedRaces ||
		opts.ExitStatusOnRace != DefaultExitStatus {
		t.Errorf("Parse(\"\") = %+v, want defaults %+v", opts, def)
	}
}

// TestParseAllKeys sets every option.
func TestParseAllKeys(t *testing.T) {
	s := "verbosity=2,history_size=4,max_reported_races=20," +
		"suppressions=/tmp/supp.txt,track_lock_orders=true," +
		"ignore_regions=/tmp/ign.txt,exit_status_on_race=42"
	opts, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if opts.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", opts.Verbosity)
	}
	if opts.HistorySize != 4 {
		t.Errorf("HistorySize = %d, want 4", opts.HistorySize)
	}
	if opts.MaxReportedRaces != 20 {
		t.Errorf("MaxReportedRaces = %d, want 20", opts.MaxReportedRaces)
	}
	if opts.Suppressions != "/tmp/supp.txt" {
		t.Errorf("Suppressions = %q, want /tmp/supp.txt", opts.Suppressions)
	}
	if !opts.TrackLockOrders {
		t.Error("TrackLockOrders = false, want true")
	}
	if opts.IgnoreRegions != "/tmp/ign.txt" {
		t.Errorf("IgnoreRegions = %q, want /tmp/ign.txt", opts.IgnoreRegions)
	}
	if opts.ExitStatusOnRace != 42 {
		t.Errorf("ExitStatusOnRace = %d, want 42", opts.ExitStatusOnRace)
	}
}

// TestParseWhitespaceAndEmptyItems are tolerated.
func TestParseWhitespaceAndEmptyItems(t *testing.T) {
	opts, err := Parse(" verbosity=1 ,, history_size=2 ")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if opts.Verbosity != 1 || opts.HistorySize != 2 {
		t.Errorf("got verbosity=%d history_size=%d, want 1/2", opts.Verbosity, opts.HistorySize)
	}
}

// TestParseErrors rejects unknown keys, bad ints, out-of-range values.
func TestParseErrors(t *testing.T) {
	cases := []struct {
		in      string
		errPart string
	}{
		{"bogus=1", "unknown option"},
		{"verbosity", "not key=value"},
		{"verbosity=x", "not an integer"},
		{"verbosity=9", "out of range"},
		{"history_size=0", "out of range"},
		{"track_lock_orders=maybe", "not a bool"},
		{"exit_status_on_race=300", "out of range"},
	}
	for _, c := range cases {
		_, err := Parse(c.in)
		if err == nil {
			t.Errorf("Parse(%q) = nil error, want error containing %q", c.in, c.errPart)
			continue
		}
		if !strings.Contains(err.Error(), c.errPart) {
			t.Errorf("Parse(%q) error = %v, want containing %q", c.in, err, c.errPart)
		}
	}
}
