package session

import "time"

type callConfig struct {
	timeout time.Duration
}

// CallOption tunes a single Invoke.
type CallOption func(*callConfig)

// WithTimeout bounds how long Invoke waits. Zero or negative disables
// the timeout, overriding any connection default.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d < 0 {
			d = 0
		}
		c.timeout = d
	}
}
