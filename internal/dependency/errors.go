package dependency

import "fmt"

// ConfigurationError reports an invalid dependency declaration.
type ConfigurationError struct {
	Dependency string
	Reason     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("dependency %s: %s", e.Dependency, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ServiceUnavailableError is returned when a service is needed and none is
// available.
type ServiceUnavailableError struct {
	ID string
}

func (e *ServiceUnavailableError) Error() string {
	return "No service available for " + e.ID
}

// CallbackError wraps a failure to invoke a dependency callback.
type CallbackError struct {
	Method string
	Class  string
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %s of %s: %v", e.Method, e.Class, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
