// Package gpio provides GPIO line access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Output drives a single GPIO line, such as a valve relay.
type Output interface {
	// Set drives the line to its logical active (true) or inactive level.
	// Active-low wiring is handled when the line is requested.
	Set(active bool) error

	// Close releases the line.
	Close() error
}

// Input samples a single GPIO line, such as a push button.
type Input interface {
	// Active returns the logical level of the line.
	Active() (bool, error)

	// Close releases the line.
	Close() error
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"
