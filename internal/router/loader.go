package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// LoadRules reads and compiles a JSON rules file. Reading goes through an
// afero filesystem so tests can load rules from memory.
func LoadRules(fsys afero.Fs, path string) ([]Rule, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("router: open rules file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	var configs []RuleConfig
	if err := dec.Decode(&configs); err != nil {
		return nil, fmt.Errorf("router: parse rules file %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(configs))
	for _, rc := range configs {
		rule, err := rc.Compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadInto loads a rules file and atomically swaps it into the router.
func LoadInto(r *Router, fsys afero.Fs, path string) error {
	rules, err := LoadRules(fsys, path)
	if err != nil {
		return err
	}
	if err := r.ReplaceRules(rules); err != nil {
		return err
	}
	slog.Info("Loaded routing rules", "path", path, "count", len(rules))
	return nil
}

// Watch reloads the rules file into the router whenever it changes on disk,
// until the context ends. A failed reload logs and keeps the previous rule
// set. The watch runs in the background; Watch returns once it is armed.
func Watch(ctx context.Context, r *Router, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("router: start rules watcher: %w", err)
	}

	// Watch the directory rather than the file: editors and config
	// management tend to replace files by rename, which drops a file-level
	// watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("router: watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := LoadInto(r, afero.NewOsFs(), path); err != nil {
					slog.Error("Rules reload failed, keeping previous rules", "path", path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Rules watcher error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
