package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestParseBuildArgs separates sources, output and pass-through flags.
func TestParseBuildArgs(t *testing.T) {
	cfg, err := parseBuildArgs([]string{"-o", "myapp", "-ldflags", "-s -w", "-v", "main.go", "helper.go"})
	if err != nil {
		t.Fatalf("parseBuildArgs error: %v", err)
	}
	if cfg.outputFile != "myapp" {
		t.Errorf("outputFile = %q, want myapp", cfg.outputFile)
	}
	if !cfg.verbose {
		t.Error("verbose = false, want true")
	}
	if len(cfg.sourceFiles) != 2 || cfg.sourceFiles[0] != "main.go" {
		t.Errorf("sourceFiles = %v, want [main.go helper.go]", cfg.sourceFiles)
	}
	if len(cfg.buildFlags) != 2 || cfg.buildFlags[0] != "-ldflags" || cfg.buildFlags[1] != "-s -w" {
		t.Errorf("buildFlags = %v, want [-ldflags, -s -w]", cfg.buildFlags)
	}
}

// TestParseBuildArgsDefaults to the current directory.
func TestParseBuildArgsDefaults(t *testing.T) {
	cfg, err := parseBuildArgs(nil)
	if err != nil {
		t.Fatalf("parseBuildArgs error: %v", err)
	}
	if len(cfg.sourceFiles) != 1 || cfg.sourceFiles[0] != "." {
		t.Errorf("sourceFiles = %v, want [.]", cfg.sourceFiles)
	}
}

// TestParseBuildArgsMissingOutput rejects a dangling -o.
func TestParseBuildArgsMissingOutput(t *testing.T) {
	if _, err := parseBuildArgs([]string{"-o"}); err == nil {
		t.Error("parseBuildArgs(-o) = nil error, want error")
	}
}

// TestNeedsValue knows which flags consume the next argument.
func TestNeedsValue(t *testing.T) {
	if !needsValue("-ldflags") {
		t.Error("needsValue(-ldflags) = false, want true")
	}
	if needsValue("-ldflags=-s") {
		t.Error("needsValue(-ldflags=-s) = true, want false")
	}
	if needsValue("-race") {
		t.Error("needsValue(-race) = true, want false")
	}
}

// TestTargetModulePath reads the module path from go.mod and falls back
// without one.
func TestTargetModulePath(t *testing.T) {
	dir := t.TempDir()
	if got, err := targetModulePath(dir); err != nil || got != "instrumented" {
		t.Errorf("targetModulePath(no go.mod) = %q, %v; want instrumented, nil", got, err)
	}

	mod := "module example.com/hello\n\ngo 1.24.0\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(mod), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := targetModulePath(dir); err != nil || got != "example.com/hello" {
		t.Errorf("targetModulePath = %q, %v; want example.com/hello, nil", got, err)
	}
}

// TestWriteWorkspaceModFile produces a go.mod requiring the runtime.
func TestWriteWorkspaceModFile(t *testing.T) {
	target := t.TempDir()
	ws := t.TempDir()
	mod := "module example.com/hello\n\ngo 1.24.0\n"
	if err := os.WriteFile(filepath.Join(target, "go.mod"), []byte(mod), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := writeWorkspaceModFile(ws, target); err != nil {
		t.Fatalf("writeWorkspaceModFile error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(ws, "go.mod"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "module example.com/hello") {
		t.Errorf("workspace go.mod missing module path:\n%s", content)
	}
	if !strings.Contains(content, runtimeModulePath) {
		t.Errorf("workspace go.mod missing runtime requirement:\n%s", content)
	}
}

// TestCollectGoFiles expands directories and excludes tests.
func TestCollectGoFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c_test.go", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("package x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := collectGoFiles([]string{dir}, dir)
	if err != nil {
		t.Fatalf("collectGoFiles error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("collectGoFiles = %v, want 2 files", files)
	}
	for _, f := range files {
		if strings.HasSuffix(f, "_test.go") || strings.HasSuffix(f, ".txt") {
			t.Errorf("collected unwanted file %s", f)
		}
	}
}
