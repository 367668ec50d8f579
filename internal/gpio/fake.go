package gpio

import "sync"

// FakeOutput is a test double that records relay writes.
type FakeOutput struct {
	mu sync.Mutex

	on     bool
	writes []bool
	closed bool

	// failures counts upcoming Set calls that should fail with err.
	failures int
	err      error
}

// NewFakeOutput creates a de-energized FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the write. It fails while scripted failures remain, leaving
// the line level unchanged.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return f.err
	}
	f.on = on
	f.writes = append(f.writes, on)
	return nil
}

// Fail makes the next n Set calls return err. n < 0 fails indefinitely.
func (f *FakeOutput) Fail(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.err = err
}

// On reports the current line level.
func (f *FakeOutput) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Writes returns every successful write in order.
func (f *FakeOutput) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.writes))
	copy(out, f.writes)
	return out
}

// Close de-energizes and marks the output closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = false
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeOutput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
