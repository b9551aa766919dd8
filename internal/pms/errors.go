package pms

import "fmt"

// AuthError means an access token could not be obtained or was rejected.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pms auth failed: %v", e.Err)
	}
	return fmt.Sprintf("pms auth failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteAPIError is returned once a call has exhausted its retry budget.
type RemoteAPIError struct {
	Kind       EntityKind
	StatusCode int // zero for transport failures
	Message    string
	Attempts   int
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("pms %s request failed after %d attempts: %s", e.Kind, e.Attempts, e.Message)
	}
	return fmt.Sprintf("pms %s request failed after %d attempts: status %d: %s", e.Kind, e.Attempts, e.StatusCode, e.Message)
}
