package judge

import "fmt"

type ErrorKind int

const (
	// ErrTransport covers failures reaching the model or getting a reply.
	ErrTransport ErrorKind = iota + 1
	// ErrMalformed means the reply did not satisfy the output contract.
	ErrMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransport:
		return "transport"
	case ErrMalformed:
		return "malformed"
	}
	return "unknown"
}

// Error describes one failed classification attempt.
type Error struct {
	Kind    ErrorKind
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("judge attempt %d: %s: %v", e.Attempt, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
