package speech

import (
	"fmt"
	"os/exec"
	"sync"
)

// Command speaks by running an external TTS program (espeak, say, spd-say)
// with the text as its last argument. The program runs in the background;
// Speak returns once it has started.
type Command struct {
	name string
	args []string

	mu      sync.Mutex
	current *exec.Cmd
	done    chan struct{}
}

// NewCommand creates a Command speaker for the given program and leading arguments.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// Speak starts the program for text. With interrupt set, a still-running
// utterance is killed first; otherwise Speak waits for it to finish.
func (c *Command) Speak(text string, interrupt bool) error {
	c.mu.Lock()
	prev, done := c.current, c.done
	c.mu.Unlock()

	if prev != nil {
		if interrupt && prev.Process != nil {
			_ = prev.Process.Kill()
		}
		<-done
	}

	args := append(append([]string(nil), c.args...), text)
	cmd := exec.Command(c.name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.name, err)
	}

	finished := make(chan struct{})
	c.mu.Lock()
	c.current = cmd
	c.done = finished
	c.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		c.mu.Lock()
		if c.current == cmd {
			c.current = nil
			c.done = nil
		}
		c.mu.Unlock()
		close(finished)
	}()
	return nil
}

// Busy reports whether an utterance is still being spoken.
func (c *Command) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Close kills any utterance in progress and waits for it to exit.
func (c *Command) Close() error {
	c.mu.Lock()
	cur, done := c.current, c.done
	c.mu.Unlock()
	if cur == nil {
		return nil
	}
	if cur.Process != nil {
		_ = cur.Process.Kill()
	}
	<-done
	return nil
}
