package server

import (
	"errors"
	"net/http"
	"testing"

	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"github.com/smallbiznis/wipline/internal/authorization"
	identitydomain "github.com/smallbiznis/wipline/internal/identity/domain"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	"github.com/smallbiznis/wipline/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"invalid token", identitydomain.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
		{"revoked token", identitydomain.ErrTokenRevoked, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"no billable work", invoicedomain.ErrNoBillableWork, http.StatusUnprocessableEntity, "no_billable_work"},
		{"invalid entries", invoicedomain.ErrInvalidTimesheetEntries, http.StatusBadRequest, "validation_error"},
		{"already billed", invoicedomain.ErrTimesheetEntryAlreadyBill, http.StatusConflict, "conflict"},
		{"nightly run overlap", scheduler.ErrRunInProgress, http.StatusConflict, "conflict"},
		{"rate limited", ErrTooManyRequests, http.StatusTooManyRequests, "rate_limited"},
		{"project not found", projectdomain.ErrProjectNotFound, http.StatusNotFound, "not_found"},
		{"invoice not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
		{"gorm record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"invalid role", identitydomain.ErrInvalidRole, http.StatusBadRequest, "validation_error"},
		{"invalid page token", auditdomain.ErrInvalidPageToken, http.StatusBadRequest, "validation_error"},
		{"plain failure", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantType, payload.Type)
		})
	}
}

func TestMapError_WrappedErrorsStillMatch(t *testing.T) {
	wrapped := errors.Join(errors.New("generate invoice"), invoicedomain.ErrNoBillableWork)

	status, payload := mapError(wrapped)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "no_billable_work", payload.Type)
}

func TestMapError_ValidationErrorsCarryFieldDetail(t *testing.T) {
	err := newValidationError("project_id", "invalid", "project_id must be a valid id")

	status, payload := mapError(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "project_id", payload.Errors[0].Field)
		assert.Equal(t, "invalid", payload.Errors[0].Code)
	}
}
