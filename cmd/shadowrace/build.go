// build.go implements the 'shadowrace build' command.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kolkov/shadowrace/cmd/shadowrace/instrument"
)

// buildCommand instruments the given sources into a temporary workspace
// and builds them with the stock toolchain.
func buildCommand(args []string) {
	cfg, err := parseBuildArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ws, err := createWorkspace()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workspace: %v\n", err)
		os.Exit(1)
	}
	defer ws.cleanup()

	if err := instrumentSources(cfg, ws); err != nil {
		fmt.Fprintf(os.Stderr, "Error instrumenting sources: %v\n", err)
		os.Exit(1)
	}
	if err := writeWorkspaceModFile(ws.dir, cfg.workDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up runtime: %v\n", err)
		os.Exit(1)
	}
	if err := ws.build(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}
	if cfg.outputFile != "" {
		fmt.Printf("Built successfully: %s\n", cfg.outputFile)
	}
}

// buildConfig holds parsed arguments for the build command.
type buildConfig struct {
	sourceFiles []string
	outputFile  string
	buildFlags  []string
	workDir     string
	verbose     bool
}

// parseBuildArgs separates source files, the -o flag and pass-through go
// build flags.
func parseBuildArgs(args []string) (*buildConfig, error) {
	cfg := &buildConfig{}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg.workDir = cwd

	expectingValue := false
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if expectingValue {
			cfg.buildFlags = append(cfg.buildFlags, arg)
			expectingValue = false
			continue
		}
		switch {
		case arg == "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-o flag requires an argument")
			}
			i++
			cfg.outputFile = args[i]
		case strings.HasPrefix(arg, "-o="):
			cfg.outputFile = strings.TrimPrefix(arg, "-o=")
		case arg == "-v":
			cfg.verbose = true
		case strings.HasPrefix(arg, "-"):
			cfg.buildFlags = append(cfg.buildFlags, arg)
			expectingValue = needsValue(arg)
		default:
			cfg.sourceFiles = append(cfg.sourceFiles, arg)
		}
	}
	if len(cfg.sourceFiles) == 0 {
		cfg.sourceFiles = []string{"."}
	}
	return cfg, nil
}

// needsValue reports whether a go build flag consumes the next argument.
func needsValue(flag string) bool {
	valueFlags := []string{
		"-ldflags", "-gcflags", "-asmflags", "-gccgoflags",
		"-tags", "-installsuffix", "-buildmode", "-mod",
		"-modfile", "-overlay", "-pkgdir", "-toolexec",
	}
	for _, vf := range valueFlags {
		if strings.HasPrefix(flag, vf+"=") {
			return false
		}
		if flag == vf {
			return true
		}
	}
	return false
}

// workspace is the temporary directory holding instrumented sources.
type workspace struct {
	dir string
}

func createWorkspace() (*workspace, error) {
	dir, err := os.MkdirTemp("", "shadowrace-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &workspace{dir: dir}, nil
}

func (w *workspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}

// build runs 'go build' inside the workspace.
func (w *workspace) build(cfg *buildConfig) error {
	args := []string{"build"}
	if cfg.outputFile != "" {
		outputPath := cfg.outputFile
		if !filepath.IsAbs(outputPath) {
			outputPath = filepath.Join(cfg.workDir, outputPath)
		}
		args = append(args, "-o", outputPath)
	}
	args = append(args, cfg.buildFlags...)
	args = append(args, ".")

	tidy := exec.Command("go", "mod", "tidy")
	tidy.Dir = w.dir
	tidy.Stderr = os.Stderr
	if err := tidy.Run(); err != nil {
		return fmt.Errorf("go mod tidy: %w", err)
	}

	cmd := exec.Command("go", args...)
	cmd.Dir = w.dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// instrumentSources rewrites every source file into the workspace.
func instrumentSources(cfg *buildConfig, ws *workspace) error {
	goFiles, err := collectGoFiles(cfg.sourceFiles, cfg.workDir)
	if err != nil {
		return fmt.Errorf("failed to collect source files: %w", err)
	}
	if len(goFiles) == 0 {
		return fmt.Errorf("no Go source files found")
	}
	for _, srcPath := range goFiles {
		result, err := instrument.File(srcPath, nil)
		if err != nil {
			return fmt.Errorf("failed to instrument %s: %w", srcPath, err)
		}
		outPath := filepath.Join(ws.dir, filepath.Base(srcPath))
		if err := os.WriteFile(outPath, []byte(result.Code), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		if cfg.verbose {
			fmt.Printf("Instrumented: %s (%d writes, %d reads, %d skipped)\n",
				srcPath, result.Stats.Writes, result.Stats.Reads, result.Stats.Skipped)
		}
	}
	return nil
}

// collectGoFiles expands files and directories into a flat .go file list,
// excluding tests.
func collectGoFiles(sources []string, workDir string) ([]string, error) {
	var goFiles []string
	for _, src := range sources {
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(workDir, src)
		}
		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", src, err)
		}
		if !info.IsDir() {
			if strings.HasSuffix(srcPath, ".go") {
				goFiles = append(goFiles, srcPath)
			}
			continue
		}
		entries, err := os.ReadDir(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", srcPath, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
				continue
			}
			goFiles = append(goFiles, filepath.Join(srcPath, name))
		}
	}
	return goFiles, nil
}
