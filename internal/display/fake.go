package display

import "sync"

// Fake is a Display that records every level it receives.
type Fake struct {
	mu     sync.Mutex
	levels []float64

	// Err, if set, is returned by SetLevel after recording.
	Err error
}

// SetLevel records level.
func (f *Fake) SetLevel(level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, level)
	return f.Err
}

// Levels returns a copy of the recorded levels.
func (f *Fake) Levels() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.levels...)
}
