package sandbox

import "fmt"

// ProvisionError means the runtime could not create or start a sandbox.
// Fatal to the triggering request; the caller may retry, since no record
// is left behind.
type ProvisionError struct {
	UserID string
	Err    error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning sandbox for user %s: %v", e.UserID, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// ConnectError means the runtime could not open or start an exec against
// a container. Fatal to that call.
type ConnectError struct {
	ContainerID string
	Err         error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("opening exec on container %s: %v", shortID(e.ContainerID), e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
