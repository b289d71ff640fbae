package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable covers any failed schema, page or record fetch.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrPaginationProtocol means the source broke the cursor contract.
	ErrPaginationProtocol = errors.New("pagination protocol violation")
	// ErrTenantNotConfigured means the tenant has no usable link or credentials.
	ErrTenantNotConfigured = errors.New("tenant not configured")
	// ErrDeleteFailure marks removed records that could not be deleted.
	ErrDeleteFailure = errors.New("delete failure")
	// ErrAssetMirror marks assets that could not be copied.
	ErrAssetMirror = errors.New("asset mirror failure")
	// ErrInvalidRecord rejects a new record that cannot be encoded.
	ErrInvalidRecord = errors.New("invalid record")
)

func sourceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, op, err)
}

// Code returns a stable machine-readable name for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTenantNotConfigured):
		return "tenant_not_configured"
	case errors.Is(err, ErrPaginationProtocol):
		return "pagination_protocol_violation"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrInvalidRecord):
		return "invalid_record"
	default:
		return "internal"
	}
}
