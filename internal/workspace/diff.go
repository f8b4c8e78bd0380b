package workspace

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff compares the on-disk content of a path against the unsaved buffer
// content and renders a unified-style diff. An empty string means the
// buffer matches the disk.
func (w *Workspace) Diff(path, bufferContent string) (string, error) {
	diskContent, err := w.ReadFile(path)
	if err != nil {
		diskContent = "" // new file: whole buffer is an addition
	}
	if diskContent == bufferContent {
		return "", nil
	}
	return renderUnified(path, diskContent, bufferContent), nil
}

// renderUnified produces a line-based diff with unified prefixes. Hunks
// are separated where runs of unchanged lines exceed the context window.
func renderUnified(path, before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range splitLines(d.Text) {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func splitLines(text string) []string {
	trimmed := strings.TrimSuffix(text, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// GitDiff runs `git diff` in the project directory. With a path it is
// restricted to that file; path must validate first.
func (w *Workspace) GitDiff(ctx context.Context, path string) (string, error) {
	args := []string{"diff"}
	if path != "" {
		abs, err := w.ValidatePath(path)
		if err != nil {
			return "", err
		}
		args = append(args, "--", abs)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.root
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git diff: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git diff: %w", err)
	}
	return string(out), nil
}
