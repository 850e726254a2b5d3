package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"rmakedrv/chroot"
	"rmakedrv/recipe"
	"rmakedrv/trove"
)

// manifestExecutor runs a configured external command inside a chroot
// root and reads back the binaries it produced from a manifest file,
// since interpreting a real package-manager build is explicitly out of
// scope (spec.md 1 Non-goals: "actual recipe build execution inside the
// chroot"). This is the one concrete BuildExecutor the CLI wires by
// default; callers needing a different build system supply their own
// worker.BuildExecutor instead.
type manifestExecutor struct {
	// Command is the external build command to run, e.g. the
	// configured BuildServerPath. Invoked as:
	//   Command --root <basePath> --recipe <name> --version <version>
	//           --target-label <label> --manifest <file>
	Command string
}

// manifestFileName is where Execute expects Command to have written one
// produced binary per line in the bare "name=revision" form that
// parseTripleString reads; labels and flavors are not parsed.
const manifestFileName = "rmakedrv-binaries.list"

func (e *manifestExecutor) Execute(ctx context.Context, root *chroot.Root, tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, builtTroves []recipe.Triple) ([]recipe.Triple, error) {
	if e.Command == "" {
		return nil, fmt.Errorf("manifestExecutor: no build command configured")
	}

	manifestPath := filepath.Join(root.BasePath, manifestFileName)
	os.Remove(manifestPath) // stale manifest from a reused BasePath, if any

	cmd := exec.CommandContext(ctx, e.Command,
		"--root", root.BasePath,
		"--recipe", tr.Triple.Name,
		"--version", tr.Triple.Version.String(),
		"--target-label", targetLabel,
		"--manifest", manifestPath,
	)
	cmd.Stdout = root.LogWriter
	cmd.Stderr = root.LogWriter
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("build command failed: %w", err)
	}

	return readManifest(manifestPath)
}

func readManifest(path string) ([]recipe.Triple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("build command produced no manifest: %w", err)
	}
	defer f.Close()

	var out []recipe.Triple
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		out = append(out, parseTripleString(line))
	}
	return out, scanner.Err()
}
