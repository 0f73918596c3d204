// modlink.go links the shadowrace runtime into instrumented workspaces.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// runtimeModulePath is the module instrumented code imports for the
// runtime API.
const runtimeModulePath = "github.com/kolkov/shadowrace"

// targetModulePath resolves the module path of the project being
// instrumented by parsing its go.mod. A project without a go.mod gets the
// fallback path "instrumented".
func targetModulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		if os.IsNotExist(err) {
			return "instrumented", nil
		}
		return "", err
	}
	mf, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return "", fmt.Errorf("parse %s/go.mod: %w", dir, err)
	}
	if mf.Module == nil {
		return "instrumented", nil
	}
	return mf.Module.Mod.Path, nil
}

// writeWorkspaceModFile generates the workspace go.mod: the target's
// module path, a requirement on the runtime, and - when the tool runs
// from a source checkout - a replace directive pointing at it.
func writeWorkspaceModFile(workspaceDir, targetDir string) error {
	modPath, err := targetModulePath(targetDir)
	if err != nil {
		return err
	}

	mf := new(modfile.File)
	if err := mf.AddModuleStmt(modPath); err != nil {
		return err
	}
	if err := mf.AddGoStmt("1.24.0"); err != nil {
		return err
	}
	if err := mf.AddRequire(runtimeModulePath, "v0.1.0"); err != nil {
		return err
	}
	if root, err := findRuntimeRoot(); err == nil {
		if err := mf.AddReplace(runtimeModulePath, "", root, ""); err != nil {
			return err
		}
	}

	data, err := mf.Format()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workspaceDir, "go.mod"), data, 0o644)
}

// findRuntimeRoot walks up from the working directory looking for the
// shadowrace source checkout, so development builds link against the
// local runtime instead of a published module.
func findRuntimeRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err == nil {
			if mf, perr := modfile.ParseLax("go.mod", data, nil); perr == nil &&
				mf.Module != nil && mf.Module.Mod.Path == runtimeModulePath {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("shadowrace source checkout not found above %s", dir)
		}
		dir = parent
	}
}
