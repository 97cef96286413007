package llm

import "fmt"

// AuthError means no credential is configured. Raised before any network I/O so
// the user gets an actionable instruction instead of a provider 401.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Reason)
}

// NetworkError wraps transport-level failures (unreachable host, timeout).
// These are transient; the next natural trigger simply re-attempts.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderError carries a non-success response from the completion endpoint,
// including malformed or empty payloads.
type ProviderError struct {
	Status int
	Detail string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider: status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("provider: %s", e.Detail)
}
