package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
)

// DiscoveryFileName is written under the options PATH while a supervisor runs.
const DiscoveryFileName = "symbiont_supervisor.json"

// Discovery tells clients where a running supervisor listens.
type Discovery struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// WriteDiscovery replaces path atomically.
func WriteDiscovery(path string, d Discovery) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return renameio.WriteFile(path, b, 0o644)
}

// ReadDiscovery reads a discovery file.
func ReadDiscovery(path string) (Discovery, error) {
	var d Discovery
	b, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("decode %s: %w", path, err)
	}
	if d.Port <= 0 {
		return d, fmt.Errorf("decode %s: missing port", path)
	}
	return d, nil
}

// WaitForDiscovery returns once path holds a valid discovery record or ctx ends.
func WaitForDiscovery(ctx context.Context, path string) (Discovery, error) {
	if d, err := ReadDiscovery(path); err == nil {
		return d, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Discovery{}, err
	}
	defer func() { _ = watcher.Close() }()
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return Discovery{}, fmt.Errorf("watch %s: %w", dir, err)
	}
	// written between the first read and Add
	if d, err := ReadDiscovery(path); err == nil {
		return d, nil
	}
	name := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return Discovery{}, ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return Discovery{}, errors.New("discovery watcher closed")
			}
			if filepath.Base(ev.Name) != name || !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if d, err := ReadDiscovery(path); err == nil {
				return d, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return Discovery{}, errors.New("discovery watcher closed")
			}
			if err != nil {
				return Discovery{}, err
			}
		}
	}
}
