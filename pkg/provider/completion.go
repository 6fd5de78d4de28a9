package provider

import "sync"

// completion resolves a value exactly once. Both streaming test directions
// race a timer against an I/O path onto the same outcome; the first resolver
// wins and later attempts are discarded.
type completion[T any] struct {
	once sync.Once
	done chan struct{}
	res  T
}

func newCompletion[T any]() *completion[T] {
	return &completion[T]{done: make(chan struct{})}
}

// resolve installs the value if no resolution happened yet. Returns true
// when this call won.
func (c *completion[T]) resolve(v T) bool {
	won := false
	c.once.Do(func() {
		c.res = v
		won = true
		close(c.done)
	})
	return won
}

// wait blocks until the completion is resolved and returns the winning value.
func (c *completion[T]) wait() T {
	<-c.done
	return c.res
}

// resolved reports whether a value has been installed already.
func (c *completion[T]) resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
