package errdef

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error kinds, attached with errors.Join so a single failure can carry
// both its kind and its cause. The orchestrator keys retry decisions off
// these; the HTTP edge keys status codes off them.
var (
	// ErrInvalidInput marks caller mistakes: bad URL, unavailable video,
	// over-cap duration or file size. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrQuotaExceeded marks a quota rejection. Never retried.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrTransient marks failures worth retrying with backoff.
	ErrTransient = errors.New("transient failure")
	// ErrParse marks an unusable model response; callers degrade.
	ErrParse = errors.New("parse failure")
	// ErrCanceled marks cooperative pipeline cancellation. Not a failure.
	ErrCanceled = errors.New("canceled")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks uniqueness/concurrency conflicts.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized marks an identity failure at the edge.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInternal marks invariant violations; pipeline-fatal.
	ErrInternal = errors.New("internal error")
)

func InvalidInput(msg string) error {
	return errors.Join(ErrInvalidInput, errors.New(strings.TrimSpace(msg)))
}

func Transient(msg string) error {
	return errors.Join(ErrTransient, errors.New(strings.TrimSpace(msg)))
}

func Parse(msg string) error {
	return errors.Join(ErrParse, errors.New(strings.TrimSpace(msg)))
}

func Internal(msg string) error {
	return errors.Join(ErrInternal, errors.New(strings.TrimSpace(msg)))
}

func NotFound(what string) error {
	return errors.Join(ErrNotFound, errors.New(strings.TrimSpace(what)+" not found"))
}

// QuotaError carries the structured payload surfaced to callers when a
// quota check rejects an operation.
type QuotaError struct {
	Kind  string  // videos | minutes | messages | storage_mb | embedding_tokens
	Used  float64
	Limit float64
	Tier  string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s (used %.1f of %.1f, tier %s)", e.Kind, e.Used, e.Limit, e.Tier)
}

func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

func Quota(kind string, used, limit float64, tier string) error {
	return &QuotaError{Kind: kind, Used: used, Limit: limit, Tier: tier}
}

// AsQuota unwraps a QuotaError if err carries one.
func AsQuota(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// Retryable reports whether the pipeline may retry after err.
// Quota, input, parse, cancellation and invariant failures are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrCanceled),
		errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrParse),
		errors.Is(err, ErrInternal):
		return false
	case errors.Is(err, ErrTransient):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// MapDBError translates driver and ORM failures into tagged kinds.
func MapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Join(ErrNotFound, fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, context.Canceled):
		return errors.Join(ErrCanceled, fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTransient, fmt.Errorf("%s: %w", op, err))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return errors.Join(ErrConflict, fmt.Errorf("%s: %w", op, err)) // unique_violation
		case "23503":
			return errors.Join(ErrInvalidInput, fmt.Errorf("%s: %w", op, err)) // foreign_key_violation
		case "40001", "40P01", "55P03":
			return errors.Join(ErrTransient, fmt.Errorf("%s: %w", op, err)) // serialization/deadlock
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"):
		return errors.Join(ErrConflict, fmt.Errorf("%s: %w", op, err))
	case strings.Contains(msg, "deadlock"), strings.Contains(msg, "timeout"), strings.Contains(msg, "temporar"):
		return errors.Join(ErrTransient, fmt.Errorf("%s: %w", op, err))
	default:
		return errors.Join(ErrInternal, fmt.Errorf("%s: %w", op, err))
	}
}
