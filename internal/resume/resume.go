// Package resume stashes joined interview configs so a session can be started
// or restarted by interview id.
package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rbright/candor/internal/interview"
	"github.com/rbright/candor/internal/logging"
)

var (
	ErrNotJoined = errors.New("interview not joined")
	ErrMismatch  = errors.New("stashed interview does not match")
)

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Stash is a directory of joined interview configs keyed by interview id.
type Stash struct {
	Dir string
}

// Default returns the stash under the state directory.
func Default() (Stash, error) {
	dir, err := logging.StateDir()
	if err != nil {
		return Stash{}, fmt.Errorf("resolve state dir: %w", err)
	}
	return Stash{Dir: filepath.Join(dir, "sessions")}, nil
}

// Save validates cfg and writes it, replacing any earlier join.
func (s Stash) Save(cfg interview.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return "", fmt.Errorf("create session stash: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}

	path := s.path(cfg.InterviewID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write session stash: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write session stash: %w", err)
	}
	return path, nil
}

// Load returns the stashed config for id. A stash that cannot be read back or
// that belongs to another interview is cleared.
func (s Stash) Load(id string) (interview.Config, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return interview.Config{}, fmt.Errorf("%w: interview id is empty", ErrNotJoined)
	}
	path := s.path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return interview.Config{}, fmt.Errorf("%w: %s; re-join with `candor join <file>`", ErrNotJoined, id)
	}
	if err != nil {
		return interview.Config{}, fmt.Errorf("read session stash: %w", err)
	}

	var cfg interview.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		_ = os.Remove(path)
		return interview.Config{}, fmt.Errorf("%w: stash for %s is corrupt; re-join with `candor join <file>`", ErrNotJoined, id)
	}
	if cfg.InterviewID != id {
		_ = os.Remove(path)
		return interview.Config{}, fmt.Errorf("%w: stash holds %q, not %q; re-join with `candor join <file>`", ErrMismatch, cfg.InterviewID, id)
	}
	return cfg, nil
}

// Clear removes the stash for id. Missing entries are not an error.
func (s Stash) Clear(id string) error {
	err := os.Remove(s.path(strings.TrimSpace(id)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the stashed interview ids in sorted order.
func (s Stash) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s Stash) path(id string) string {
	return filepath.Join(s.Dir, unsafeID.ReplaceAllString(id, "_")+".json")
}
