package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/m3rciful/flowbot/core/flow"
)

// Kind classifies turn failures.
type Kind uint8

const (
	// KindUserResolution marks events without a chat to resolve a user from.
	KindUserResolution Kind = iota + 1
	// KindDispatch marks an outbound send that failed. The turn continues.
	KindDispatch
	// KindFlowLookup marks a missing or corrupt flow. The turn changes nothing.
	KindFlowLookup
	// KindPersistence marks a store failure. It is returned to the caller.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindUserResolution:
		return "UserResolutionFailed"
	case KindDispatch:
		return "DispatchFailed"
	case KindFlowLookup:
		return "FlowLookupFailed"
	case KindPersistence:
		return "PersistenceFailed"
	default:
		return "Unknown"
	}
}

// ErrNoChat is wrapped by UserResolutionFailed errors.
var ErrNoChat = errors.New("event carries no chat id")

// Error is a classified turn failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns a stable upper-case code for logs.
func (e *Error) Code() string {
	if e.Kind == KindFlowLookup {
		switch {
		case errors.Is(e.Err, flow.ErrStepNotFound):
			return "FLOW_STEP_NOT_FOUND"
		case errors.Is(e.Err, flow.ErrUnknownShape):
			return "FLOW_UNKNOWN_SHAPE"
		}
	}
	switch e.Kind {
	case KindUserResolution:
		return "USER_RESOLUTION_FAILED"
	case KindDispatch:
		return "DISPATCH_FAILED"
	case KindFlowLookup:
		return "FLOW_LOOKUP_FAILED"
	case KindPersistence:
		return "PERSISTENCE_FAILED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// IsKind reports whether err is an engine error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// ErrorCode derives a log code for any error: the Code of a coder in the
// chain, or the upper-cased type name.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
