// Package allowlist stores exact-match commands the user has chosen to
// run without confirmation.
package allowlist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Allowlist is a set of exact command strings backed by a line-oriented
// file. One command per line; lines starting with # are comments. It is
// owned by the main loop, so no locking.
type Allowlist struct {
	path     string
	commands map[string]struct{}
}

// Load reads the allowlist file. A missing file yields an empty list.
func Load(path string) (*Allowlist, error) {
	a := &Allowlist{
		path:     path,
		commands: make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("open allowlist: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a.commands[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	return a, nil
}

// IsAllowed reports whether the exact command text is on the list. No
// wildcard or prefix matching.
func (a *Allowlist) IsAllowed(command string) bool {
	_, ok := a.commands[strings.TrimSpace(command)]
	return ok
}

// Add puts a command on the list and persists immediately.
func (a *Allowlist) Add(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("empty command")
	}
	if _, ok := a.commands[command]; ok {
		return nil
	}
	a.commands[command] = struct{}{}
	return a.save()
}

// Remove takes a command off the list and persists immediately.
func (a *Allowlist) Remove(command string) error {
	command = strings.TrimSpace(command)
	if _, ok := a.commands[command]; !ok {
		return nil
	}
	delete(a.commands, command)
	return a.save()
}

// Commands returns the list, sorted for stable display.
func (a *Allowlist) Commands() []string {
	out := make([]string, 0, len(a.commands))
	for c := range a.commands {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of allowed commands.
func (a *Allowlist) Len() int { return len(a.commands) }

// save writes the full list to a temp file and renames it into place so
// a crash mid-write never leaves a torn file.
func (a *Allowlist) save() error {
	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create allowlist dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".allowlist-*")
	if err != nil {
		return fmt.Errorf("create temp allowlist: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, "# Commands approved to run without confirmation.")
	fmt.Fprintln(w, "# One exact command per line.")
	for _, c := range a.Commands() {
		fmt.Fprintln(w, c)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write allowlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close allowlist: %w", err)
	}
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		return fmt.Errorf("replace allowlist: %w", err)
	}
	return nil
}
