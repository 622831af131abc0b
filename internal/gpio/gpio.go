// Package gpio drives the burner relay with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// DefaultChip is the GPIO chip on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Relay switches the burner's heating element.
type Relay interface {
	// Set energises (true) or releases (false) the relay.
	Set(on bool) error

	// Close releases the relay and GPIO resources.
	Close() error
}

// Switch mirrors the desired heating state onto a Relay, writing only on change.
type Switch struct {
	relay Relay
	on    bool
	known bool
}

// NewSwitch wraps r. The first Apply always writes.
func NewSwitch(r Relay) *Switch {
	return &Switch{relay: r}
}

// Apply sets the relay to on if it is not already there.
// It reports whether a write happened.
func (s *Switch) Apply(on bool) (bool, error) {
	if s.known && s.on == on {
		return false, nil
	}
	if err := s.relay.Set(on); err != nil {
		s.known = false
		return false, fmt.Errorf("set relay %v: %w", on, err)
	}
	s.on = on
	s.known = true
	return true, nil
}

// On reports the last state successfully written.
func (s *Switch) On() bool {
	return s.known && s.on
}
