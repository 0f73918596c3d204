// Package config holds the enumerated runtime configuration.
//
// Options come either from the embedding program (struct literal) or from
// the SHADOWRACE_OPTS environment variable, a comma-separated key=value
// list, e.g.:
//
//	SHADOWRACE_OPTS=verbosity=2,history_size=4,max_reported_races=20
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvVar is the environment variable consulted by FromEnv.
const EnvVar = "SHADOWRACE_OPTS"

// DefaultExitStatus is the process exit status when races were reported.
const DefaultExitStatus = 66

// Options is the runtime configuration.
type Options struct {
	// Verbosity selects report detail, 0-3.
	Verbosity int

	// HistorySize is the per-thread trace depth in parts.
	HistorySize int

	// MaxReportedRaces stops emitting reports after this many unique
	// races; further races are counted but not printed.
	MaxReportedRaces int

	// Suppressions is the path to a suppression file.
	Suppressions string

	// TrackLockOrders enables lock-order inversion warnings. Parsed and
	// carried; the analysis itself lives outside the detection core.
	TrackLockOrders bool

	// IgnoreRegions is the path to a file of patterns in the suppression
	// format. Only its addr:<lo>-<hi> lines take effect: accesses in those
	// ranges are not tracked. Function-name (race:) lines are parsed but
	// not consulted by the engine.
	IgnoreRegions string

	// ExitStatusOnRace is the exit status Fini returns when at least one
	// race was reported.
	ExitStatusOnRace int

	// Output receives race reports and the final summary.
	Output io.Writer
}

// Default returns the baseline options.
func Default() Options {
	return Options{
		Verbosity:        0,
		HistorySize:      8,
		MaxReportedRaces: 1000,
		ExitStatusOnRace: DefaultExitStatus,
		Output:           os.Stderr,
	}
}

// FromEnv returns Default overridden by SHADOWRACE_OPTS.
func FromEnv() (Options, error) {
	return Parse(os.Getenv(EnvVar))
}

// Parse returns Default overridden by the given comma-separated key=value
// string. Unknown keys and malformed values are errors: a silently
// misspelled option would silently change what gets detected.
func Parse(s string) (Options, error) {
	opts := Default()
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return opts, fmt.Errorf("config: %q is not key=value", kv)
		}
		var err error
		switch key {
		case "verbosity":
			opts.Verbosity, err = parseInt(key, val, 0, 3)
		case "history_size":
			opts.HistorySize, err = parseInt(key, val, 1, 64)
		case "max_reported_races":
			opts.MaxReportedRaces, err = parseInt(key, val, 0, 1<<30)
		case "suppressions":
			opts.Suppressions = val
		case "track_lock_orders":
			opts.TrackLockOrders, err = strconv.ParseBool(val)
			if err != nil {
				err = fmt.Errorf("config: %s: %q is not a bool", key, val)
			}
		case "ignore_regions":
			opts.IgnoreRegions = val
		case "exit_status_on_race":
			opts.ExitStatusOnRace, err = parseInt(key, val, 0, 255)
		default:
			err = fmt.Errorf("config: unknown option %q", key)
		}
		if err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func parseInt(key, val string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %q is not an integer", key, val)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("config: %s: %d out of range [%d, %d]", key, n, lo, hi)
	}
	return n, nil
}
