// Package update decides whether to install remote program and
// configuration releases, and installs them.
//
// Each domain is a Strategy. A Governor holds a persisted failure fuse per
// domain, and a Manager runs the strategies in order, isolates their
// failures from each other and asks the reboot governor for a restart when
// an installed release needs one.
package update

import (
	"context"
	"time"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/devconfig"
	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/version"
)

// Domain names.
const (
	DomainProgram = "program"
	DomainConfig  = "config"
)

// Strategy checks for and installs releases of one domain. The set of
// implementations is closed: *ProgramStrategy and *ConfigStrategy.
type Strategy interface {
	// Name returns the domain name.
	Name() string

	// Current returns the installed version.
	Current() string

	// Check fetches the manifest and reports whether a strictly newer,
	// non-suspicious version is available, caching it as the candidate.
	// It returns false on any failure; the error is for classification.
	Check(ctx context.Context) (bool, error)

	// Apply installs the cached candidate, re-running Check once if none is
	// cached. It never restarts the device.
	Apply(ctx context.Context) (Applied, error)

	// Candidate returns the cached candidate, if any.
	Candidate() (Manifest, bool)

	sealed()
}

// Applied reports a successful Apply.
type Applied struct {
	Previous string
	Version  string
	// RestartRequired is set when the release only takes effect after a
	// restart.
	RestartRequired bool
	// Critical is set when command-channel connection settings changed.
	Critical bool
}

// Deps are the collaborators shared by both strategies.
type Deps struct {
	Fetcher Fetcher
	Config  *devconfig.Handle
	Clock   clock.Clock
	Kicker  Kicker
	Log     *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Kicker == nil {
		d.Kicker = nopKicker{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}

// source carries the state common to both strategies.
type source struct {
	domain  string
	section string
	deps    Deps

	candidate *Manifest
	lastKick  time.Duration
}

func (s *source) Name() string { return s.domain }

func (s *source) Candidate() (Manifest, bool) {
	if s.candidate == nil {
		return Manifest{}, false
	}
	return *s.candidate, true
}

// check fetches the manifest at url and caches it when it is newer than
// current. An empty url means the domain is not configured.
func (s *source) check(ctx context.Context, url, current string) (bool, error) {
	s.candidate = nil
	if url == "" {
		s.deps.Log.Debugw("no update source configured", "domain", s.domain)
		return false, nil
	}

	m, err := s.readManifest(ctx, url)
	if err != nil {
		s.deps.Log.Warnw("manifest check failed", "domain", s.domain, "error", err)
		return false, err
	}
	if version.Suspicious(m.Version) {
		s.deps.Log.Warnw("ignoring suspicious manifest version", "domain", s.domain, "version", m.Version)
		return false, nil
	}
	if !version.Newer(m.Version, current) {
		s.deps.Log.Debugw("up to date", "domain", s.domain, "current", current, "remote", m.Version)
		return false, nil
	}

	s.deps.Log.Infow("update available", "domain", s.domain, "current", current, "candidate", m.Version)
	s.candidate = &m
	return true, nil
}

// ensureCandidate returns the cached candidate, running recheck once when
// nothing is cached.
func (s *source) ensureCandidate(ctx context.Context, recheck func(context.Context) (bool, error)) (Manifest, error) {
	if s.candidate == nil {
		ok, err := recheck(ctx)
		if err != nil {
			return Manifest{}, err
		}
		if !ok {
			return Manifest{}, &Error{Domain: s.domain, Class: ClassNoCandidate, Err: ErrNoCandidate}
		}
	}
	return *s.candidate, nil
}
