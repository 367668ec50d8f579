// Package sensor reads the soil moisture probe through the kernel IIO ADC
// interface.
package sensor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sweeney/bonsai-node/internal/logic"
)

// DefaultPath is channel 0 of the first IIO ADC.
const DefaultPath = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"

// ErrRange is returned for a sample outside 0..logic.RawMax.
var ErrRange = errors.New("sensor: reading out of range")

// Reader reads one raw soil sample.
type Reader interface {
	Read() (int, error)
}

// Path returns the sysfs file for an ADC channel.
func Path(device, channel int) string {
	return fmt.Sprintf("/sys/bus/iio/devices/iio:device%d/in_voltage%d_raw", device, channel)
}

// SysfsReader reads a raw IIO channel file.
type SysfsReader struct {
	path string
}

// NewSysfsReader returns a reader for path. The file is opened per sample.
func NewSysfsReader(path string) *SysfsReader {
	return &SysfsReader{path: path}
}

// Read returns the current raw sample.
func (r *SysfsReader) Read() (int, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", r.path, err)
	}
	return parseRaw(data)
}

func parseRaw(data []byte) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse sample %q: %w", strings.TrimSpace(string(data)), err)
	}
	if v < 0 || v > logic.RawMax {
		return 0, fmt.Errorf("%w: %d", ErrRange, v)
	}
	return v, nil
}

// FakeReader returns configured samples for tests.
type FakeReader struct {
	mu  sync.Mutex
	raw int
	err error
	n   int
}

// NewFakeReader returns a fake reading raw.
func NewFakeReader(raw int) *FakeReader {
	return &FakeReader{raw: raw}
}

// Set changes the sample.
func (f *FakeReader) Set(raw int) {
	f.mu.Lock()
	f.raw = raw
	f.mu.Unlock()
}

// SetError makes Read fail until cleared with nil.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Read returns the configured sample.
func (f *FakeReader) Read() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.err != nil {
		return 0, f.err
	}
	return f.raw, nil
}

// Reads returns how many times Read was called.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
