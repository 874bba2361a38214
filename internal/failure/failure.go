package failure

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIO                = errors.New("io error")
	ErrFormat            = errors.New("format error")
	ErrDependencyMissing = errors.New("dependency missing")
	ErrLogic             = errors.New("logic error")
	ErrUnsupportedTask   = errors.New("unsupported task")
	ErrTimeout           = errors.New("timeout")
	ErrProtocol          = errors.New("protocol error")
	ErrInternal          = errors.New("internal error")
)

// Wire names for the error_type field of a failed task response.
const (
	KindIO                = "io_error"
	KindFormat            = "format_error"
	KindDependencyMissing = "dependency_missing"
	KindLogic             = "logic_error"
	KindUnsupportedTask   = "unsupported_task"
	KindTimeout           = "timeout"
	KindProtocol          = "protocol_error"
	KindInternal          = "internal_error"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrInternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error onto its wire error_type. Logic and unsupported-task
// markers win over the recoverable ones so a misconfiguration is never
// reported as bad input data.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedTask):
		return KindUnsupportedTask
	case errors.Is(err, ErrLogic):
		return KindLogic
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrDependencyMissing):
		return KindDependencyMissing
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

// MarkerForKind returns the sentinel associated with a wire error_type.
func MarkerForKind(kind string) error {
	switch strings.TrimSpace(kind) {
	case KindIO:
		return ErrIO
	case KindFormat:
		return ErrFormat
	case KindDependencyMissing:
		return ErrDependencyMissing
	case KindLogic:
		return ErrLogic
	case KindUnsupportedTask:
		return ErrUnsupportedTask
	case KindTimeout:
		return ErrTimeout
	case KindProtocol:
		return ErrProtocol
	default:
		return ErrInternal
	}
}

// Recoverable reports whether safe mode may absorb err into an empty or
// partial result.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	switch Kind(err) {
	case KindIO, KindFormat, KindDependencyMissing:
		return true
	default:
		return false
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
