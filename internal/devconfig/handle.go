package devconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Result describes an accepted configuration change.
type Result struct {
	Previous Config
	Current  Config
	// Critical is true when command-channel connection parameters changed.
	Critical bool
	// Changed is false when the candidate equals the active configuration.
	Changed bool
}

// Handle owns the active configuration and its file. All mutations go
// through Apply so the file and the in-memory copy never diverge.
//
// Handle is safe for concurrent use.
type Handle struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

// NewHandle returns a Handle with cfg active, persisting to path.
func NewHandle(path string, cfg Config) *Handle {
	return &Handle{path: path, cfg: cfg}
}

// Path returns the file the Handle persists to.
func (h *Handle) Path() string { return h.path }

// Get returns a copy of the active configuration.
func (h *Handle) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Apply decodes payload over a copy of the active configuration, validates
// it, saves it atomically, and only then makes it active. On any error the
// active configuration and the file are unchanged.
func (h *Handle) Apply(payload []byte) (Result, error) {
	return h.apply(payload, nil)
}

// ApplyVersion is Apply with config_version forced to version regardless of
// what payload says.
func (h *Handle) ApplyVersion(payload []byte, version string) (Result, error) {
	return h.apply(payload, func(c *Config) { c.ConfigVersion = version })
}

func (h *Handle) apply(payload []byte, adjust func(*Config)) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	candidate, err := overlay(h.cfg, payload)
	if err != nil {
		return Result{}, err
	}
	if adjust != nil {
		adjust(&candidate)
	}
	return h.commitLocked(candidate)
}

// Reload re-reads the file and activates it if it is valid and differs from
// the active configuration. Used when the file is edited out of band.
func (h *Handle) Reload() (Result, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", h.path, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	candidate, err := overlay(Default(), data)
	if err != nil {
		return Result{}, err
	}
	if err := Validate(candidate); err != nil {
		return Result{}, err
	}
	prev := h.cfg
	h.cfg = candidate
	return Result{
		Previous: prev,
		Current:  candidate,
		Critical: CriticalChanged(prev, candidate),
		Changed:  prev != candidate,
	}, nil
}

func (h *Handle) commitLocked(candidate Config) (Result, error) {
	if err := Validate(candidate); err != nil {
		return Result{}, err
	}
	prev := h.cfg
	if prev == candidate {
		if existing, err := os.ReadFile(h.path); err == nil {
			if want, err := Marshal(candidate); err == nil && bytes.Equal(existing, want) {
				return Result{Previous: prev, Current: prev}, nil
			}
		}
	}
	if err := Save(h.path, candidate); err != nil {
		return Result{}, err
	}
	h.cfg = candidate
	return Result{
		Previous: prev,
		Current:  candidate,
		Critical: CriticalChanged(prev, candidate),
		Changed:  prev != candidate,
	}, nil
}

// Reason maps an Apply error to the short tag used in acknowledgements.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrPersist):
		return "fs_write"
	default:
		return "error"
	}
}
