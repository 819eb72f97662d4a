package cardex

import (
	"errors"
	"fmt"

	"github.com/cardexio/cardex/embed"
	"github.com/cardexio/cardex/hashindex"
	"github.com/cardexio/cardex/index"
	"github.com/cardexio/cardex/mapping"
	"github.com/cardexio/cardex/matcher"
	"github.com/cardexio/cardex/metastore"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/price"
)

var (
	// ErrNotFound is returned when a card id does not exist.
	ErrNotFound = errors.New("card not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrZeroVector is returned when an embedding has zero L2 norm and
	// cannot be normalized.
	ErrZeroVector = errors.New("embedding has zero norm")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidCategory indicates a category outside the fixed registry.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidCategory struct {
	Category string
	cause    error
}

func (e *ErrInvalidCategory) Error() string {
	return fmt.Sprintf("invalid category: %q (valid: %v)", e.Category, model.Categories())
}

func (e *ErrInvalidCategory) Unwrap() error { return e.cause }

// ErrInvalidHash indicates a malformed perceptual hash string.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidHash struct {
	Value string
	cause error
}

func (e *ErrInvalidHash) Error() string {
	return fmt.Sprintf("invalid perceptual hash: %q", e.Value)
}

func (e *ErrInvalidHash) Unwrap() error { return e.cause }

// ErrStorageUnavailable indicates a failure of the durable metadata medium.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrStorageUnavailable struct {
	Op    string
	cause error
}

func (e *ErrStorageUnavailable) Error() string {
	return fmt.Sprintf("storage unavailable during %s", e.Op)
}

func (e *ErrStorageUnavailable) Unwrap() error { return e.cause }

// ErrProviderUnavailable indicates an unreachable external provider
// (embedding service or price provider). Callers treat it as a degraded
// state, not a hard failure.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrProviderUnavailable struct {
	Provider string
	cause    error
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("provider %s unavailable", e.Provider)
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, metastore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, price.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Dimension and argument normalization.
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var ic *metastore.ErrInvalidCategory
	if errors.As(err, &ic) {
		return &ErrInvalidCategory{Category: ic.Category, cause: err}
	}
	var ih *hashindex.ErrInvalidHash
	if errors.As(err, &ih) {
		return &ErrInvalidHash{Value: ih.Value, cause: err}
	}
	if errors.Is(err, matcher.ErrZeroVector) {
		return fmt.Errorf("%w: %w", ErrZeroVector, err)
	}

	// Infrastructure classification.
	var su *metastore.ErrUnavailable
	if errors.As(err, &su) {
		return &ErrStorageUnavailable{Op: su.Op, cause: err}
	}
	var eu *embed.UnavailableError
	if errors.As(err, &eu) {
		return &ErrProviderUnavailable{Provider: "embedding", cause: err}
	}
	var pu *price.UnavailableError
	if errors.As(err, &pu) {
		return &ErrProviderUnavailable{Provider: "price", cause: err}
	}
	var mc *mapping.ErrConflict
	if errors.As(err, &mc) {
		return fmt.Errorf("index mapping corrupted: %w", err)
	}

	return err
}
