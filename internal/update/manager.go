package update

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/reboot"
)

// ErrUnknownDomain is returned by RunDomain for an unregistered name.
var ErrUnknownDomain = errors.New("unknown update domain")

// Rebooter accepts or refuses reboot requests.
type Rebooter interface {
	RequestReboot(reason string, severity reboot.Severity) bool
}

// Result is what happened to one domain in one run.
type Result string

const (
	ResultCooldown Result = "cooldown"
	ResultUpToDate Result = "up_to_date"
	ResultApplied  Result = "applied"
	ResultFailed   Result = "failed"
)

// Outcome describes one domain's run.
type Outcome struct {
	RunID      string     `json:"run_id"`
	Domain     string     `json:"domain"`
	Previous   string     `json:"previous"`
	Candidate  string     `json:"candidate,omitempty"`
	Result     Result     `json:"result"`
	Succeeded  bool       `json:"succeeded"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Report summarises a run.
type Report struct {
	RunID    string
	Outcomes []Outcome
	// RebootWarranted is set when an applied release needs a restart.
	RebootWarranted bool
	// RebootAccepted is whether the reboot governor took the request.
	RebootAccepted bool
}

// Manager runs the registered strategies in order.
type Manager struct {
	strategies []Strategy
	governor   *Governor
	rebooter   Rebooter
	log        *logger.Logger

	// OnOutcome, when set, receives every Outcome as it is produced.
	OnOutcome func(Outcome)
	// OnCritical, when set, is called after a configuration release changed
	// command-channel connection settings.
	OnCritical func()
}

// NewManager returns a Manager with no strategies registered.
func NewManager(governor *Governor, rebooter Rebooter, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{governor: governor, rebooter: rebooter, log: log}
}

// Register appends s. The program domain must be registered before the
// configuration domain, and each domain only once.
func (m *Manager) Register(s Strategy) error {
	for _, existing := range m.strategies {
		if existing.Name() == s.Name() {
			return fmt.Errorf("domain %s already registered", s.Name())
		}
		if s.Name() == DomainProgram && existing.Name() == DomainConfig {
			return fmt.Errorf("program domain must be registered before config domain")
		}
	}
	m.strategies = append(m.strategies, s)
	return nil
}

// Domains returns the registered domain names in run order.
func (m *Manager) Domains() []string {
	names := make([]string, len(m.strategies))
	for i, s := range m.strategies {
		names[i] = s.Name()
	}
	return names
}

// RunAll runs every strategy once, in registration order.
func (m *Manager) RunAll(ctx context.Context) Report {
	return m.run(ctx, m.strategies)
}

// RunDomain runs the single strategy named name.
func (m *Manager) RunDomain(ctx context.Context, name string) (Report, error) {
	for _, s := range m.strategies {
		if s.Name() == name {
			return m.run(ctx, []Strategy{s}), nil
		}
	}
	return Report{}, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
}

func (m *Manager) run(ctx context.Context, strategies []Strategy) Report {
	rep := Report{RunID: uuid.NewString()}
	var restartFor []string

	for _, s := range strategies {
		out, applied := m.runOne(ctx, rep.RunID, s)
		rep.Outcomes = append(rep.Outcomes, out)
		if m.OnOutcome != nil {
			m.OnOutcome(out)
		}
		if !out.Succeeded || out.Result != ResultApplied {
			continue
		}
		if applied.RestartRequired {
			restartFor = append(restartFor, s.Name())
		}
		if applied.Critical && m.OnCritical != nil {
			m.OnCritical()
		}
	}

	if len(restartFor) > 0 {
		rep.RebootWarranted = true
		reason := "update:" + strings.Join(restartFor, ",")
		rep.RebootAccepted = m.rebooter.RequestReboot(reason, reboot.SeverityNormal)
		m.log.Infow("reboot requested after update", "run", rep.RunID, "reason", reason, "accepted", rep.RebootAccepted)
	}
	return rep
}

func (m *Manager) runOne(ctx context.Context, runID string, s Strategy) (Outcome, Applied) {
	name := s.Name()
	out := Outcome{RunID: runID, Domain: name, Previous: s.Current()}

	if !m.governor.Allow(name) {
		m.log.Infow("update skipped, fuse cooling down", "domain", name, "until", m.governor.Fuse(name).Until)
		out.Result = ResultCooldown
		out.Succeeded = true
		return out, Applied{}
	}

	available, err := s.Check(ctx)
	if err != nil {
		return m.failed(out, err), Applied{}
	}
	if !available {
		m.governor.RecordSuccess(name)
		out.Result = ResultUpToDate
		out.Succeeded = true
		return out, Applied{}
	}
	if c, ok := s.Candidate(); ok {
		out.Candidate = c.Version
	}

	applied, err := s.Apply(ctx)
	if err != nil {
		return m.failed(out, err), Applied{}
	}

	m.governor.RecordSuccess(name)
	out.Candidate = applied.Version
	out.Result = ResultApplied
	out.Succeeded = true
	m.log.Infow("update applied", "run", runID, "domain", name, "previous", applied.Previous, "version", applied.Version)
	return out, applied
}

func (m *Manager) failed(out Outcome, err error) Outcome {
	class := ClassOf(err)
	out.Result = ResultFailed
	out.ErrorClass = class
	out.Error = err.Error()
	if class.counted() {
		f := m.governor.RecordFailure(out.Domain)
		m.log.Warnw("update failed", "run", out.RunID, "domain", out.Domain, "class", class, "failures", f.Failures, "error", err)
	} else {
		m.log.Infow("update not applied", "run", out.RunID, "domain", out.Domain, "class", class)
	}
	return out
}
