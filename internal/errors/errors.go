package appErrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation   = "FOLLOWUP_VALIDATION"
	TextCodeForbidden    = "FOLLOWUP_FORBIDDEN"
	TextCodeNotFound     = "FOLLOWUP_NOT_FOUND"
	TextCodeUnsubscribed = "FOLLOWUP_PROSPECT_UNSUBSCRIBED"
	TextCodeConflict     = "FOLLOWUP_CONFLICT"
	TextCodeProvider     = "FOLLOWUP_PROVIDER_FAILED"
	TextCodeReconcile    = "FOLLOWUP_RECONCILIATION"
	TextCodeContent      = "FOLLOWUP_CONTENT_FAILED"
	TextCodeInternal     = "FOLLOWUP_INTERNAL"
)

// Validation reports malformed input. fields maps a field name to what is wrong with it.
func Validation(message string, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	fieldErrs := make([]goerrors.FieldError, 0, len(names))
	for _, name := range names {
		fieldErrs = append(fieldErrs, goerrors.FieldError{Field: name, Message: fields[name]})
	}
	return goerrors.NewValidation(message, fieldErrs...).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeValidation)
}

// Unauthorized is returned when the ownership chain does not resolve to the caller.
func Unauthorized(message string) error {
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(TextCodeForbidden)
}

func NotFound(kind string, id any) error {
	return goerrors.New(fmt.Sprintf("%s with ID %v not found", kind, id), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(TextCodeNotFound)
}

func Conflict(message string) error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(TextCodeConflict)
}

// ProspectUnsubscribed refuses a send to a prospect that opted out.
func ProspectUnsubscribed(prospectID int64) error {
	return goerrors.New(fmt.Sprintf("prospect %d is unsubscribed", prospectID), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(TextCodeUnsubscribed)
}

// ContentFailed reports that the content collaborator could not write copy.
func ContentFailed(cause error) error {
	return goerrors.Wrap(cause, goerrors.CategoryExternal, "content generation failed: "+cause.Error()).
		WithCode(http.StatusBadGateway).
		WithTextCode(TextCodeContent)
}

// Reconciliation marks an internal failure while handling a provider callback.
func Reconciliation(stage string, cause error) error {
	msg := "webhook reconciliation failed at " + stage
	if cause == nil {
		return goerrors.New(msg, goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(TextCodeReconcile)
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, msg+": "+cause.Error()).
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeReconcile)
}

// ProviderError is a failed call to a channel provider.
type ProviderError struct {
	Provider   string
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s provider failure", e.Provider, kind)
	}
	return fmt.Sprintf("%s: %s provider failure: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider string, retryable bool, err error) *ProviderError {
	return &ProviderError{Provider: provider, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Retryable
}

func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

func IsValidation(err error) bool   { return hasCategory(err, goerrors.CategoryValidation) }
func IsUnauthorized(err error) bool { return hasCategory(err, goerrors.CategoryAuthz) }
func IsNotFound(err error) bool     { return hasCategory(err, goerrors.CategoryNotFound) }

func IsUnsubscribed(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == TextCodeUnsubscribed
}

// IsPermanent reports whether retrying err cannot help: bad input, missing or
// forbidden resources, conflicts and permanent provider failures.
func IsPermanent(err error) bool {
	if perr, ok := AsProviderError(err); ok {
		return !perr.Retryable
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	switch rich.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryNotFound,
		goerrors.CategoryConflict, goerrors.CategoryAuthz, goerrors.CategoryAuth:
		return true
	}
	return false
}

func hasCategory(err error, category goerrors.Category) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == category
}

// Envelope maps any error onto a go-errors envelope with an HTTP code.
func Envelope(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code == 0 {
			rich.Code = http.StatusInternalServerError
		}
		return rich
	}
	if perr, ok := AsProviderError(err); ok {
		return goerrors.New(perr.Error(), goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(TextCodeProvider).
			WithMetadata(map[string]any{"provider": perr.Provider, "retryable": perr.Retryable})
	}
	return goerrors.New("An unexpected error occurred", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeInternal)
}
