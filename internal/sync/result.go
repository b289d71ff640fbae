package sync

import (
	"errors"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
)

// Result is the outcome of one sync, narrow update, delete or create.
// Entry points report failures here instead of returning errors.
type Result struct {
	Success    bool                `json:"success"`
	TenantID   string              `json:"tenant_id"`
	Type       mapping.LogicalType `json:"type,omitempty"`
	DatabaseID string              `json:"database_id,omitempty"`
	Synced     int                 `json:"synced"`
	Added      []string            `json:"added"`
	Removed    []string            `json:"removed"`
	Error      string              `json:"error,omitempty"`
	Code       string              `json:"code,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`

	err error
}

func newResult(tenantID string, lt mapping.LogicalType, databaseID string) *Result {
	return &Result{
		TenantID:   tenantID,
		Type:       lt,
		DatabaseID: databaseID,
		Added:      []string{},
		Removed:    []string{},
	}
}

// Failed builds an unsuccessful result for work that never reached a pass.
func Failed(tenantID string, lt mapping.LogicalType, databaseID string, err error) *Result {
	return newResult(tenantID, lt, databaseID).fail(err)
}

// Err returns the failure behind an unsuccessful result.
func (r *Result) Err() error {
	return r.err
}

// fail records err and resets progress to zero.
func (r *Result) fail(err error) *Result {
	r.Success = false
	r.Synced = 0
	r.Added = []string{}
	r.Removed = []string{}
	r.err = err
	r.Error = err.Error()
	r.Code = Code(err)
	return r
}

func (r *Result) warn(err error) {
	if err != nil {
		r.Warnings = append(r.Warnings, err.Error())
	}
}

// Merge folds several results for one tenant into one.
func Merge(tenantID string, lt mapping.LogicalType, results []*Result) *Result {
	out := newResult(tenantID, lt, "")
	if len(results) == 1 {
		out.DatabaseID = results[0].DatabaseID
	}
	out.Success = true
	var errs []error
	for _, r := range results {
		out.Synced += r.Synced
		out.Added = append(out.Added, r.Added...)
		out.Removed = append(out.Removed, r.Removed...)
		out.Warnings = append(out.Warnings, r.Warnings...)
		if !r.Success {
			out.Success = false
			if r.err != nil {
				errs = append(errs, r.err)
			}
		}
	}
	if !out.Success {
		out.err = errors.Join(errs...)
		if out.err != nil {
			out.Error = out.err.Error()
			out.Code = Code(errs[0])
		}
	}
	return out
}
