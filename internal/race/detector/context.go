package detector

import (
	"fmt"
	"os"
	"sync"

	"github.com/kolkov/shadowrace/internal/race/config"
	"github.com/kolkov/shadowrace/internal/race/report"
	"github.com/kolkov/shadowrace/internal/race/shadow"
	"github.com/kolkov/shadowrace/internal/race/synctab"
	"github.com/kolkov/shadowrace/internal/race/thread"
)

// Context owns all engine state. Exactly one exists per detected program;
// it is passed explicitly rather than living in a global so that tests can
// run isolated engines side by side.
type Context struct {
	opts config.Options

	Mem     *shadow.Memory
	Syncs   *synctab.Table
	Threads *thread.Registry

	printer *report.Printer
	supp    *report.Suppressions
	ignores *report.Suppressions

	dedup    report.Deduper
	reportMu sync.Mutex
	reported int64
	dropped  int64

	annMu   sync.Mutex
	benign  []annRange
	expects []*expectation

	statsMu sync.Mutex
	stats   thread.Stats
}

type annRange struct {
	lo, hi uintptr // inclusive byte bounds
}

type expectation struct {
	annRange
	desc string
	hits int
}

// New creates an engine context. It fails only on unloadable suppression
// or ignore files; a failed configuration must not silently detect less.
func New(opts config.Options) (*Context, error) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.HistorySize < 1 {
		opts.HistorySize = config.Default().HistorySize
	}
	supp, err := report.LoadSuppressions(opts.Suppressions)
	if err != nil {
		return nil, fmt.Errorf("suppressions: %w", err)
	}
	ignores, err := report.LoadSuppressions(opts.IgnoreRegions)
	if err != nil {
		return nil, fmt.Errorf("ignore_regions: %w", err)
	}
	return &Context{
		opts:    opts,
		Mem:     shadow.NewMemory(),
		Syncs:   synctab.New(),
		Threads: thread.NewRegistry(opts.HistorySize),
		printer: report.NewPrinter(opts.Output, nil, opts.Verbosity),
		supp:    supp,
		ignores: ignores,
	}, nil
}

// Options returns the context's configuration.
func (c *Context) Options() config.Options { return c.opts }

// RacesReported returns the number of reports printed so far: unique races
// plus API-misuse warnings.
func (c *Context) RacesReported() int64 {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()
	return c.reported
}

// Fini finalizes the run: reports expectation annotations that never
// fired, prints the summary and per-run statistics, and returns the
// process exit status (ExitStatusOnRace when any report, race or misuse
// warning, was printed or an expectation never fired, else 0).
func (c *Context) Fini() int {
	c.annMu.Lock()
	var missing []*expectation
	for _, e := range c.expects {
		if e.hits == 0 {
			missing = append(missing, e)
		}
	}
	c.annMu.Unlock()
	for _, e := range missing {
		c.printer.Print(&report.Report{
			Typ:  report.TypeMissingExpectedRace,
			Desc: fmt.Sprintf("expected race at 0x%x did not occur: %s", e.lo, e.desc),
		})
	}

	c.reportMu.Lock()
	reported, dropped := c.reported, c.dropped
	c.reportMu.Unlock()
	c.printer.Summary(reported, dropped)

	if c.opts.Verbosity >= 2 {
		c.statsMu.Lock()
		s := c.stats
		c.statsMu.Unlock()
		fmt.Fprintf(c.opts.Output,
			"shadowrace stats: mops=%d (r=%d w=%d) same-info=%d replaced=%d sync=%d races=%d\n",
			s.Mops, s.MopsRead, s.MopsWrite, s.SameInfo, s.Replaced, s.SyncOps, s.Races)
	}

	if reported > 0 || len(missing) > 0 {
		return c.opts.ExitStatusOnRace
	}
	return 0
}

// flushStats folds a finished thread's counters into the run totals.
func (c *Context) flushStats(s *thread.Stats) {
	c.statsMu.Lock()
	c.stats.Add(s)
	c.statsMu.Unlock()
}

// fatalf reports an engine invariant violation and aborts. The diagnostic
// goes to stderr directly: the configured output may be a test buffer and
// this must be seen.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: shadowrace: "+format+"\n", args...)
	panic("shadowrace: engine invariant violation")
}
