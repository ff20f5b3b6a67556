package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Store holds the active policy and swaps it on reload
type Store struct {
	current atomic.Pointer[Policy]
	path    string
	log     Logger
}

// NewStore loads path, or allows everything when path is empty
func NewStore(path string, log Logger) (*Store, error) {
	s := &Store{path: path, log: log}
	if path == "" {
		s.current.Store(AllowAll())
		return s, nil
	}

	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(p)
	return s, nil
}

// Current returns the active policy
func (s *Store) Current() *Policy {
	return s.current.Load()
}

// Reload re-reads the policy file. A broken file keeps the previous policy.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	p, err := Load(s.path)
	if err != nil {
		s.log.Warn("policy reload failed, keeping previous policy", "path", s.path, "error", err)
		return err
	}
	s.current.Store(p)
	s.log.Info("policy reloaded", "path", s.path)
	return nil
}

// Watch reloads the policy whenever its file changes, until ctx is cancelled.
// The parent directory is watched so editors that replace the file are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(250 * time.Millisecond)
		case <-debounce.C:
			_ = s.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("policy watcher error", "error", err)
		}
	}
}
