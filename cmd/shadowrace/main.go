// Package main implements the shadowrace CLI tool.
//
// The shadowrace tool provides race detection for Go programs without a
// custom toolchain and without CGO. It works by:
//
//  1. Parsing Go source files with go/ast
//  2. Inserting race-detection callbacks before memory accesses
//  3. Linking the shadowrace runtime via a generated go.mod
//  4. Building or running the instrumented code with the stock toolchain
//
// Usage:
//
//	shadowrace build main.go     # Build with race detection
//	shadowrace run main.go       # Run with race detection
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch command := os.Args[1]; command {
	case "build":
		buildCommand(os.Args[2:])
	case "run":
		runCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("shadowrace version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`shadowrace - pure-Go data race detector

USAGE:
    shadowrace <command> [arguments]

COMMANDS:
    build      Build a Go program with race detection
    run        Run a Go program with race detection
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Build a program with race detection
    shadowrace build -o myapp main.go

    # Run a program with race detection
    shadowrace run main.go

CONFIGURATION:
    The instrumented binary reads SHADOWRACE_OPTS at startup:

        SHADOWRACE_OPTS=verbosity=1,history_size=4 ./myapp

ABOUT:
    shadowrace instruments Go sources at the AST level and links in a
    pure-Go race detection runtime, so it works with CGO_ENABLED=0:
    Docker images, cross-compilation, and other environments where the
    standard race detector's CGO requirement is a problem.
`)
}
