package http

import (
	"errors"
	"net/http"

	"tutorledger/internal/core"
	applog "tutorledger/internal/log"
	"tutorledger/internal/services"
)

// errorResponseFor maps a service error to its HTTP response. Persistence
// errors keep their message so the caller sees what the store reported.
func errorResponseFor(err error) *JSONResponseBuilder {
	switch {
	case errors.Is(err, core.ErrAuthRequired):
		return UnauthorizedError("Sign in to continue")
	case errors.Is(err, core.ErrInvalidCredentials):
		return ErrorResponse(http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, ErrMalformedBody):
		return BadRequestError(err.Error())
	case core.IsValidation(err), errors.Is(err, core.ErrInvalidEmail), errors.Is(err, core.ErrWeakPassword):
		return UnprocessableEntityError("validation", err.Error())
	case errors.Is(err, services.ErrNoMonthsSelected):
		return UnprocessableEntityError("no_months_selected", "Select at least one month")
	case errors.Is(err, core.ErrNothingToArchive):
		return UnprocessableEntityError("nothing_to_archive", "There are no records to archive for this month")
	case errors.Is(err, core.ErrAlreadyArchived):
		return ErrorResponse(http.StatusConflict, "already_archived", "This month has already been archived")
	case errors.Is(err, core.ErrEmailTaken):
		return ErrorResponse(http.StatusConflict, "email_taken", "An account with this email already exists")
	case errors.Is(err, core.ErrArchiveNotFound):
		return NotFoundError("Archive not found")
	}
	return InternalServerError(err.Error())
}

// writeError logs server-side failures and sends the mapped response.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := errorResponseFor(err)
	logger := applog.FromContext(r.Context())
	if resp.statusCode >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldOperation, op,
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeDatabase)
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			applog.FieldOperation, op,
			applog.FieldError, err)
	}
	resp.Write(w)
}
