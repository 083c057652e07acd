// Package settings holds the engine's runtime-tunable values.
//
// The scheduler reads them once per tick through Cell; the HTTP API writes
// them. Writes may also be mirrored to a Persister so they survive restarts.
package settings

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"papertrader/internal/model"
)

// Settings is the mutable engine configuration.
type Settings struct {
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	TestSignalMode      bool    `json:"testSignalMode"`
	AutoPaper           bool    `json:"autoPaper"`
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]: %w", s.ConfidenceThreshold, model.ErrInvalid)
	}
	return nil
}

// Persister stores settings outside the process.
type Persister interface {
	// LoadSettings returns the stored settings, or ok=false if none exist.
	LoadSettings(ctx context.Context) (s Settings, ok bool, err error)
	SaveSettings(ctx context.Context, s Settings) error
}

// Update is a partial change; nil fields are left as they are.
type Update struct {
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
	TestSignalMode      *bool    `json:"testSignalMode,omitempty"`
	AutoPaper           *bool    `json:"autoPaper,omitempty"`
}

// Cell is a guarded Settings value.
type Cell struct {
	mu    sync.RWMutex
	cur   Settings
	store Persister
}

// NewCell creates a cell holding initial. store may be nil.
func NewCell(initial Settings, store Persister) *Cell {
	return &Cell{cur: initial, store: store}
}

// Get returns the current settings.
func (c *Cell) Get() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// Threshold returns the current confidence threshold.
func (c *Cell) Threshold() float64 { return c.Get().ConfidenceThreshold }

// TestSignalMode reports whether test-signal mode is on.
func (c *Cell) TestSignalMode() bool { return c.Get().TestSignalMode }

// Apply validates and applies u, then persists the result.
// Persistence failures are logged; the in-memory value stays authoritative.
func (c *Cell) Apply(ctx context.Context, u Update) (Settings, error) {
	c.mu.Lock()
	next := c.cur
	if u.ConfidenceThreshold != nil {
		next.ConfidenceThreshold = *u.ConfidenceThreshold
	}
	if u.TestSignalMode != nil {
		next.TestSignalMode = *u.TestSignalMode
	}
	if u.AutoPaper != nil {
		next.AutoPaper = *u.AutoPaper
	}
	if err := next.Validate(); err != nil {
		c.mu.Unlock()
		return c.Get(), err
	}
	c.cur = next
	c.mu.Unlock()

	if c.store != nil {
		saveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.store.SaveSettings(saveCtx, next); err != nil {
			log.Printf("[settings] WARNING: failed to persist settings: %v", err)
		}
	}
	log.Printf("[settings] updated: threshold=%.3f testSignalMode=%v autoPaper=%v",
		next.ConfidenceThreshold, next.TestSignalMode, next.AutoPaper)
	return next, nil
}

// Load restores persisted settings, if any. Returns true if a stored value was applied.
func (c *Cell) Load(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	s, ok, err := c.store.LoadSettings(ctx)
	if err != nil {
		log.Printf("[settings] WARNING: load failed, keeping defaults: %v", err)
		return false
	}
	if !ok {
		return false
	}
	if err := s.Validate(); err != nil {
		log.Printf("[settings] WARNING: ignoring stored settings: %v", err)
		return false
	}
	c.mu.Lock()
	c.cur = s
	c.mu.Unlock()
	log.Printf("[settings] restored: threshold=%.3f testSignalMode=%v autoPaper=%v",
		s.ConfidenceThreshold, s.TestSignalMode, s.AutoPaper)
	return true
}
