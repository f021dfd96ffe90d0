package replica

import "sync"

// Completion is a Signal that a backend resolves exactly once.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewCompletion returns an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolved returns a completion that is already resolved with err.
func Resolved(err error) *Completion {
	c := NewCompletion()
	c.Resolve(err)
	return c
}

// Resolve records the outcome. Later calls are ignored.
func (c *Completion) Resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Completion) Done() <-chan struct{} { return c.done }

func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// IsDone reports whether s has resolved without blocking.
func IsDone(s Signal) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
