// Package gpio drives the pump relay output line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation records writes for testing without hardware.
package gpio

// Output drives a single relay line.
type Output interface {
	// Set drives the line to its logical level: true energizes the relay.
	// Active-low wiring is handled by the implementation.
	Set(on bool) error

	// Close de-energizes the line and releases it.
	Close() error
}
