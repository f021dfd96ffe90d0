package controller

import (
	"fmt"
)

// ConfigurationError is returned synchronously when a controller is asked to
// do something its descriptor or arguments do not allow.
type ConfigurationError struct {
	Job    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("job %s: configuration error: %s", e.Job, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
