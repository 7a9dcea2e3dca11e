package domain

import "errors"

// Sentinel errors shared by the stores, services and HTTP layer. Callers
// match them with errors.Is; messages are wrapped with fmt.Errorf("%w").
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("resource conflict")
	ErrDuplicate       = errors.New("duplicate entry")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrStorage         = errors.New("storage error")

	ErrLink           = errors.New("link error")
	ErrLinkNotFound   = &linkError{"link server not found"}
	ErrLinkOnline     = &linkError{"server must be offline to change links"}
	ErrLinkReplica    = &linkError{"server with replicas cannot be linked"}
	ErrLinkCommonHost = &linkError{"linked servers cannot share a host"}
)

// linkError is a topology precondition failure. Every instance also
// matches ErrLink.
type linkError struct {
	msg string
}

func (e *linkError) Error() string { return e.msg }

func (e *linkError) Is(target error) bool { return target == ErrLink }
