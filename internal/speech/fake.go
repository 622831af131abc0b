package speech

import "sync"

// Call is one recorded Speak invocation.
type Call struct {
	Text      string
	Interrupt bool
}

// Fake is a test double that records utterances.
type Fake struct {
	mu sync.Mutex

	calls []Call

	// Err, if set, is returned by Speak after the call is recorded.
	Err error
}

// NewFake creates a Fake speaker.
func NewFake() *Fake {
	return &Fake{}
}

// Speak records the call.
func (f *Fake) Speak(text string, interrupt bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Text: text, Interrupt: interrupt})
	return f.Err
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Texts returns the recorded texts in order.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Text
	}
	return out
}

// SetErr changes the error returned by Speak.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}
