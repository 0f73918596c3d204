// Package instrument implements AST-level insertion of race-detection
// callbacks.
//
// It parses a Go source file, walks every function body, and inserts
// race.Read / race.Write calls around memory accesses, plus the imports
// and the runtime init hook. The transformation is deliberately
// conservative: anything whose addressability cannot be proven from the
// syntax alone (index expressions, map elements) is skipped and counted
// rather than risking uncompilable output.
//
// Example transformation:
//
//	// input
//	x = y + 1
//
//	// output
//	race.Read(uintptr(unsafe.Pointer(&y)), int(unsafe.Sizeof(y)))
//	race.Write(uintptr(unsafe.Pointer(&x)), int(unsafe.Sizeof(x)))
//	x = y + 1
package instrument

import (
	"bytes"
	"fmt"
	"go/parser"
	"go/printer"
	"go/token"
)

const (
	// RuntimeImportPath is the package instrumented files import.
	RuntimeImportPath = "github.com/kolkov/shadowrace/race"

	// RuntimeAlias is the local name used for inserted calls.
	RuntimeAlias = "race"
)

// Stats counts what the instrumenter did to a file.
type Stats struct {
	Writes  int
	Reads   int
	Skipped int
}

// Result holds the rewritten source and its statistics.
type Result struct {
	Code  string
	Stats Stats
}

// File instruments a single Go source file. src follows the
// go/parser.ParseFile contract (nil means read from filename).
func File(filename string, src any) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	injectImports(file)

	v := newVisitor(file)
	v.rewriteFile()

	var buf bytes.Buffer
	cfg := &printer.Config{Mode: printer.UseSpaces | printer.TabIndent, Tabwidth: 8}
	if err := cfg.Fprint(&buf, fset, file); err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	// The init hook is appended as text: prepending statements into an
	// existing main() would disturb its positions, and multiple init
	// functions per file are legal. race.Init is idempotent.
	code := buf.String() + `

// init starts the race detector runtime (inserted by shadowrace).
func init() {
	race.Init()
	_ = unsafe.Sizeof(0)
}
`
	return &Result{Code: code, Stats: v.stats}, nil
}
