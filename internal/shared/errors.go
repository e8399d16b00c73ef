package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure from an external collaborator.
type Kind int

const (
	// KindUnknown is any failure not otherwise classified.
	KindUnknown Kind = iota
	// KindQuota means the caller's storage or request quota is exhausted.
	KindQuota
	// KindPermission means the caller is not allowed to perform the operation.
	KindPermission
	// KindTransient means the operation may succeed if repeated.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindPermission:
		return "permission"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err with the given kind. A nil err stays nil.
func Classify(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the classification of err. Deadline and network timeouts
// count as transient; anything unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindUnknown
}
