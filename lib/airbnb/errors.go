package airbnb

import "fmt"

// The upstream fails in four distinct ways and each one demands a different
// reaction from the orchestrator, so the classification is carried on the
// error type rather than inferred from message text.

// AuthError means the session is dead. Fatal to the whole run.
type AuthError struct {
	Op     string
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Op, e.Detail)
}

func (e *AuthError) Fatal() bool { return true }

// StructuralError means a response violated the expected shape. The caller
// may skip the offending window or metric and continue.
type StructuralError struct {
	Op     string
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: unexpected response structure: %s", e.Op, e.Detail)
}

func (e *StructuralError) Fatal() bool { return false }

// NetworkError wraps a transport failure or a retryable status code after
// the retry budget is exhausted.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: request failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Fatal() bool { return false }

// ConfigurationError means a query was invalid before any request went out,
// e.g. a window past the upstream's horizon cap.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid query configuration: %s", e.Detail)
}

func (e *ConfigurationError) Fatal() bool { return true }
