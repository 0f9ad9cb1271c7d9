package installer

import (
	"errors"
	"fmt"
)

// Category classifies a fatal installer failure. Every category maps to a
// dedicated process exit code so wrapper scripts can distinguish failure modes.
type Category int

const (
	// CategoryGeneral is any failure without a more specific category.
	CategoryGeneral Category = iota
	// CategoryUsage is an invalid invocation.
	CategoryUsage
	// CategoryDetection is an unsupported host OS or architecture.
	CategoryDetection
	// CategoryResolution is a failure to determine the release to install.
	CategoryResolution
	// CategoryFetch is a network or transport failure while obtaining artifacts.
	CategoryFetch
	// CategoryIntegrity is a checksum mismatch or missing manifest entry.
	CategoryIntegrity
	// CategoryDependency is a failure to install or start the container engine.
	CategoryDependency
	// CategoryPortConflict means the target port is already bound.
	CategoryPortConflict
	// CategoryProvisioning is a filesystem or identity creation failure.
	CategoryProvisioning
	// CategoryDeployment is a unit or service transition failure after the
	// binary was replaced.
	CategoryDeployment
	// CategoryHealth means the service failed to report active after start.
	CategoryHealth
)

// String renders the category for error messages.
func (c Category) String() string {
	switch c {
	case CategoryUsage:
		return "usage error"
	case CategoryDetection:
		return "detection error"
	case CategoryResolution:
		return "resolution error"
	case CategoryFetch:
		return "fetch error"
	case CategoryIntegrity:
		return "integrity error"
	case CategoryDependency:
		return "dependency error"
	case CategoryPortConflict:
		return "port conflict error"
	case CategoryProvisioning:
		return "provisioning error"
	case CategoryDeployment:
		return "deployment error"
	case CategoryHealth:
		return "health check error"
	default:
		return "error"
	}
}

// ExitCode returns the process exit code for the category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryUsage:
		return 2
	case CategoryDetection:
		return 3
	case CategoryResolution:
		return 4
	case CategoryFetch:
		return 5
	case CategoryIntegrity:
		return 6
	case CategoryDependency:
		return 7
	case CategoryPortConflict:
		return 8
	case CategoryProvisioning:
		return 9
	case CategoryDeployment:
		return 10
	case CategoryHealth:
		return 11
	default:
		return 1
	}
}

// Error is a fatal installer failure carrying its category.
type Error struct {
	// Category classifies the failure.
	Category Category
	// Err is the underlying cause.
	Err error
}

// Error renders the categorized failure.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err with a category. A nil err stays nil.
func newError(category Category, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Category: category, Err: err}
}

// failf builds a categorized failure from a format string.
func failf(category Category, format string, args ...any) error {
	return &Error{Category: category, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps any error to a process exit code: 0 for nil, the category
// code for categorized failures, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category.ExitCode()
	}

	return 1
}
