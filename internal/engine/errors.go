package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"stratline/internal/repo"
)

// ErrNotFound is the repository sentinel; errors.Is works against either name.
var ErrNotFound = repo.ErrNotFound

// ValidationError rejects malformed input before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CrossTenantViolation rejects a dependency or assignment that would span two
// organizations.
type CrossTenantViolation struct {
	Op         string
	EntityKind string
	EntityID   string
	EntityOrg  string
	CallerOrg  string
}

func (e *CrossTenantViolation) Error() string {
	return fmt.Sprintf("cross-tenant violation: %s: %s %s belongs to org %q, caller is in org %q",
		e.Op, e.EntityKind, e.EntityID, e.EntityOrg, e.CallerOrg)
}

// AggregationWarning reports an ancestor recompute that failed after the
// triggering write was already durable. It never aborts the caller.
type AggregationWarning struct {
	EntityKind string
	EntityID   string
	Err        error
}

func (w *AggregationWarning) Error() string {
	return fmt.Sprintf("recompute %s %s: %v", w.EntityKind, w.EntityID, w.Err)
}

func (w *AggregationWarning) Unwrap() error { return w.Err }

func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}

var validate = validator.New()

// validateOptions runs struct tag validation and reports the first failure
// as a ValidationError.
func validateOptions(opts any) error {
	err := validate.Struct(opts)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return invalid(field, "is required")
		case "oneof":
			return invalid(field, "must be one of: "+fe.Param())
		case "min", "max":
			return invalid(field, fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param()))
		default:
			return invalid(field, "failed "+fe.Tag())
		}
	}
	return err
}
