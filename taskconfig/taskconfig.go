// Package taskconfig remembers the editor state of every batch item so that
// switching items restores what the user left behind.
package taskconfig

import (
	"sort"
	"sync"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
)

// Config is the saved state of one item. Mask is a snapshot and may be nil
// when the item was never painted on.
type Config struct {
	Params params.Params
	Mask   *mask.Mask
}

type Store struct {
	mu         sync.RWMutex
	registered map[string]struct{}
	configs    map[string]Config
	dirty      map[string]struct{}
	broadcast  bool
}

func New() *Store {
	return &Store{
		registered: make(map[string]struct{}),
		configs:    make(map[string]Config),
		dirty:      make(map[string]struct{}),
	}
}

// Register makes id a target of broadcast updates. Its config is created
// lazily.
func (s *Store) Register(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[id] = struct{}{}
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, id)
	delete(s.configs, id)
	delete(s.dirty, id)
}

// Update applies patch to id, or to every registered item when broadcast is
// on. Items without a config start from the defaults. It returns the ids that
// changed.
func (s *Store) Update(id string, patch params.Patch) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := []string{id}
	if s.broadcast {
		targets = targets[:0]
		for r := range s.registered {
			targets = append(targets, r)
		}
		if _, ok := s.registered[id]; !ok {
			targets = append(targets, id)
		}
		sort.Strings(targets)
	}

	for _, t := range targets {
		cfg, ok := s.configs[t]
		if !ok {
			cfg = Config{Params: params.Default()}
		}
		cfg.Params = cfg.Params.Apply(patch)
		s.configs[t] = cfg
		s.dirty[t] = struct{}{}
	}
	return targets
}

// Put overwrites the config of id.
func (s *Store) Put(id string, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[id] = cfg
	s.dirty[id] = struct{}{}
}

// Restore seeds id with a config saved in an earlier run. It does nothing
// when id already has one and does not mark it dirty.
func (s *Store) Restore(id string, cfg Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; ok {
		return false
	}
	s.configs[id] = cfg
	return true
}

// Get returns the stored config of id without creating one.
func (s *Store) Get(id string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	return cfg, ok
}

// Activate returns the config to load when id becomes active: the stored one
// or the defaults.
func (s *Store) Activate(id string) Config {
	if cfg, ok := s.Get(id); ok {
		return cfg
	}
	return Config{Params: params.Default()}
}

func (s *Store) SetBroadcast(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = on
}

func (s *Store) Broadcast() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcast
}

// Dirty returns the configs changed since they were last marked clean.
func (s *Store) Dirty() map[string]Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Config, len(s.dirty))
	for id := range s.dirty {
		if cfg, ok := s.configs[id]; ok {
			out[id] = cfg
		}
	}
	return out
}

// MarkClean clears the dirty flag of ids whose config is still cfg, so an edit
// racing an autosave is picked up by the next one.
func (s *Store) MarkClean(saved map[string]Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cfg := range saved {
		cur, ok := s.configs[id]
		if ok && cur.Params == cfg.Params && cur.Mask == cfg.Mask {
			delete(s.dirty, id)
		}
	}
}

// Reset forgets everything, broadcast included.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = make(map[string]struct{})
	s.configs = make(map[string]Config)
	s.dirty = make(map[string]struct{})
	s.broadcast = false
}
