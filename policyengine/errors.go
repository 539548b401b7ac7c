package policyengine

import "fmt"

// ConfigurationError reports a malformed ServicePolicies/Options pair at
// construction time. Engine construction fails atomically; no partially
// built engine is ever returned (spec.md §7).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("policyengine: configuration error: %s", e.Reason)
}

func newConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
