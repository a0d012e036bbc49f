package rules

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulseboard/sentinel/internal/logger"
)

var log = logger.New("rules")

// StoreConfig holds catalog store configuration
type StoreConfig struct {
	UserDir        string
	DisableBuiltin bool
}

// Store publishes catalog snapshots. Readers call Current and never block;
// Reload builds a complete snapshot off to the side and swaps it in only
// if it compiles.
type Store struct {
	loader  *Loader
	config  StoreConfig
	builtin []SourceFile

	current  atomic.Pointer[Catalog]
	reloadMu sync.Mutex

	callbackMu sync.Mutex
	callbacks  []ReloadCallback

	reloads   atomic.Int64
	failures  atomic.Int64
	lastError atomic.Pointer[string]
}

// ReloadStats counts reload outcomes.
type ReloadStats struct {
	Reloads   int64  `json:"reloads"`
	Failures  int64  `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// NewStore loads the builtin catalog and the user overlay. A broken
// builtin catalog is fatal. A broken user overlay is logged and the store
// starts with the builtin catalog alone.
func NewStore(cfg StoreConfig) (*Store, error) {
	s := &Store{
		loader: NewLoader(cfg.UserDir),
		config: cfg,
	}

	if !cfg.DisableBuiltin {
		builtin, err := s.loader.LoadBuiltin()
		if err != nil {
			return nil, fmt.Errorf("builtin catalog: %w", err)
		}
		// validate on its own so an overlay can't mask builtin errors
		if _, err := Compile(builtin); err != nil {
			return nil, fmt.Errorf("builtin catalog: %w", err)
		}
		s.builtin = builtin
	} else {
		log.Warn("Builtin catalog disabled")
	}

	if err := s.Reload(); err != nil {
		if cfg.DisableBuiltin {
			return nil, err
		}
		log.Warn("Failed to load user catalog, continuing with builtin only: %v", err)
		c, err := Compile(s.builtin)
		if err != nil {
			return nil, err
		}
		s.publish(c)
	}

	c := s.Current()
	log.Info("Catalog %s loaded (%d text rules, %d content rules, %d media types)",
		c.Version(), len(c.textRules), len(c.contentRules), len(c.signatures))
	return s, nil
}

// NewStaticStore wraps an already compiled catalog. Reload is a no-op
// error. Used by tests and one-shot CLI commands.
func NewStaticStore(c *Catalog) *Store {
	s := &Store{loader: NewLoader("")}
	if c != nil {
		s.current.Store(c)
	}
	return s
}

// Current returns the published snapshot, or nil if none has loaded.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Reload re-reads the user overlay and publishes a new snapshot. On any
// error the previous snapshot stays in place.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.builtin == nil && !s.config.DisableBuiltin {
		err := errors.New("store has no catalog sources")
		s.recordFailure(err)
		return err
	}

	user, err := s.loader.LoadUser()
	if err != nil {
		s.recordFailure(err)
		return err
	}

	files := make([]SourceFile, 0, len(s.builtin)+len(user))
	files = append(files, s.builtin...)
	files = append(files, user...)
	if len(files) == 0 {
		err := errors.New("no catalog files to load")
		s.recordFailure(err)
		return err
	}

	c, err := Compile(files)
	if err != nil {
		s.recordFailure(err)
		return err
	}

	s.publish(c)
	log.Debug("Published catalog %s (%d user files)", c.Version(), len(user))
	return nil
}

func (s *Store) publish(c *Catalog) {
	s.current.Store(c)
	s.reloads.Add(1)
	s.lastError.Store(nil)

	s.callbackMu.Lock()
	cbs := append([]ReloadCallback(nil), s.callbacks...)
	s.callbackMu.Unlock()
	for _, cb := range cbs {
		cb(c)
	}
}

func (s *Store) recordFailure(err error) {
	s.failures.Add(1)
	msg := err.Error()
	s.lastError.Store(&msg)
	if cur := s.Current(); cur != nil {
		log.Error("Catalog reload failed, keeping %s: %v", cur.Version(), err)
	} else {
		log.Error("Catalog load failed: %v", err)
	}
}

// OnReload registers a callback invoked after every successful publish.
func (s *Store) OnReload(cb ReloadCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Loader returns the store's loader.
func (s *Store) Loader() *Loader {
	return s.loader
}

// ReloadStats reports reload counters.
func (s *Store) ReloadStats() ReloadStats {
	st := ReloadStats{Reloads: s.reloads.Load(), Failures: s.failures.Load()}
	if p := s.lastError.Load(); p != nil {
		st.LastError = *p
	}
	return st
}

// Age is how long the current snapshot has been published.
func (s *Store) Age() time.Duration {
	c := s.Current()
	if c == nil {
		return 0
	}
	return time.Since(c.LoadedAt())
}
