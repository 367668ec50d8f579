package update

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sweeney/bonsai-node/internal/fsutil"
	"github.com/sweeney/bonsai-node/internal/version"
)

// Slot names.
const (
	SlotA = "a"
	SlotB = "b"
)

const (
	activeFile = "active"
	nextFile   = "next"
	imageMode  = 0o755
)

// Slots is the A/B program image area. The boot wrapper starts the image
// named in "active"; a successful update writes the other slot and names it
// in "next", which the wrapper promotes on the following start.
type Slots struct {
	Dir string
}

// Active returns the slot the running program was started from.
func (s Slots) Active() string {
	data, err := os.ReadFile(filepath.Join(s.Dir, activeFile))
	if err == nil && strings.TrimSpace(string(data)) == SlotB {
		return SlotB
	}
	return SlotA
}

// Inactive returns the slot an update may overwrite.
func (s Slots) Inactive() string {
	if s.Active() == SlotA {
		return SlotB
	}
	return SlotA
}

// ImagePath returns the image file for slot.
func (s Slots) ImagePath(slot string) string {
	return filepath.Join(s.Dir, "bonsai-node."+slot)
}

// Next returns the slot and version marked for the next start, if any.
func (s Slots) Next() (slot, ver string, ok bool) {
	data, err := os.ReadFile(filepath.Join(s.Dir, nextFile))
	if err != nil {
		return "", "", false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 || (fields[0] != SlotA && fields[0] != SlotB) {
		return "", "", false
	}
	return fields[0], fields[1], true
}

// MarkNext names slot as the next-start target.
func (s Slots) MarkNext(slot, ver string) error {
	return fsutil.WriteFile(filepath.Join(s.Dir, nextFile), []byte(slot+" "+ver+"\n"), 0o644)
}

// Staged returns the version waiting in the inactive slot for the next
// start, if an image is there.
func (s Slots) Staged() (string, bool) {
	slot, ver, ok := s.Next()
	if !ok || slot != s.Inactive() {
		return "", false
	}
	if _, err := os.Stat(s.ImagePath(slot)); err != nil {
		return "", false
	}
	return ver, true
}

// ProgramStrategy updates the program image.
type ProgramStrategy struct {
	source
	slots   Slots
	current string
}

// NewProgramStrategy returns the program domain strategy. current is the
// running program version.
func NewProgramStrategy(deps Deps, slots Slots, current string) *ProgramStrategy {
	return &ProgramStrategy{
		source:  source{domain: DomainProgram, section: "firmware", deps: deps.withDefaults()},
		slots:   slots,
		current: current,
	}
}

func (p *ProgramStrategy) sealed() {}

// Current returns the running program version.
func (p *ProgramStrategy) Current() string { return p.current }

// Check looks for a newer program release. Development builds never update.
func (p *ProgramStrategy) Check(ctx context.Context) (bool, error) {
	if version.Suspicious(p.current) {
		p.candidate = nil
		p.deps.Log.Debugw("development build, program updates disabled", "version", p.current)
		return false, nil
	}
	return p.check(ctx, p.deps.Config.Get().OTAManifestURL, p.installed())
}

// installed is the version a check compares against: the running one, or
// a newer image already staged for the next start.
func (p *ProgramStrategy) installed() string {
	if ver, ok := p.slots.Staged(); ok && version.Newer(ver, p.current) {
		return ver
	}
	return p.current
}

// Apply writes the candidate image to the inactive slot and marks it for the
// next start.
func (p *ProgramStrategy) Apply(ctx context.Context) (Applied, error) {
	m, err := p.ensureCandidate(ctx, p.Check)
	if err != nil {
		return Applied{}, err
	}

	slot := p.slots.Inactive()
	path := p.slots.ImagePath(slot)
	p.deps.Log.Infow("downloading program image", "version", m.Version, "slot", slot)

	f, err := fsutil.Create(path, imageMode)
	if err != nil {
		return Applied{}, newError(p.domain, ClassLocalPersistence, "stage slot %s: %w", slot, err)
	}
	n, err := p.download(ctx, m, f, 0)
	if err != nil {
		f.Abort()
		return Applied{}, err
	}
	if n == 0 {
		f.Abort()
		return Applied{}, newError(p.domain, ClassMalformedRemoteData, "empty image")
	}
	if err := f.Commit(); err != nil {
		return Applied{}, newError(p.domain, ClassLocalPersistence, "commit slot %s: %w", slot, err)
	}
	if err := p.slots.MarkNext(slot, m.Version); err != nil {
		return Applied{}, newError(p.domain, ClassLocalPersistence, "mark slot %s: %w", slot, err)
	}

	p.deps.Log.Infow("program image installed", "version", m.Version, "slot", slot, "bytes", n)
	p.candidate = nil
	return Applied{
		Previous:        p.current,
		Version:         m.Version,
		RestartRequired: true,
	}, nil
}

var _ Strategy = (*ProgramStrategy)(nil)
