package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errUnauthenticated() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errInvalidInput(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_INPUT", message, details)
}

func errInternal() *DomainError {
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

// storeFailure converts a persistence error: a missing row becomes NotFound,
// anything else is logged and hidden behind a generic InternalFailure.
func (s *Service) storeFailure(op string, err error, notFound string) *DomainError {
	if errors.Is(err, sql.ErrNoRows) && notFound != "" {
		return errNotFound(notFound)
	}
	s.log.Error("store operation failed", "op", op, "error", err)
	return errInternal()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Status {
		case http.StatusUnauthorized:
			return "unauthenticated"
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusBadRequest:
			return "invalid_input"
		}
	}
	return "internal_failure"
}

// validationDetails flattens validator errors into field -> rule.
func validationDetails(err error) map[string]string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
