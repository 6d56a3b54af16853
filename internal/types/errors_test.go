package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeMissingContent,
		Message: "notification has no title",
	}

	expected := "missing_content: notification has no title"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorErrorIncludesCause(t *testing.T) {
	appErr := NewAppError(ErrCodeInternalDB, "failed to insert notification", errors.New("conn reset"))

	expected := "internal_database_error: failed to insert notification: conn reset"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to query delivery logs", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the underlying error")
	}
}

func TestCodeOfAndIsCode(t *testing.T) {
	inner := NewAppError(ErrCodeTemplateNotFound, "no active template", nil)
	outer := NewAppError(ErrCodeMissingContent, "no content", inner)
	wrapped := fmt.Errorf("createNotification: %w", outer)

	if got := CodeOf(wrapped); got != ErrCodeMissingContent {
		t.Errorf("CodeOf() = %q, want %q", got, ErrCodeMissingContent)
	}
	if !IsCode(wrapped, ErrCodeTemplateNotFound) {
		t.Errorf("IsCode should find the nested template_not_found code")
	}
	if IsCode(wrapped, ErrCodeInternalDB) {
		t.Errorf("IsCode should not match an absent code")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Errorf("CodeOf on a plain error should be empty")
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationFailed, http.StatusBadRequest},
		{ErrCodeMalformedEvent, http.StatusBadRequest},
		{ErrCodeTemplateData, http.StatusUnprocessableEntity},
		{ErrCodeTemplateNotFound, http.StatusNotFound},
		{ErrCodeNotFoundNotification, http.StatusNotFound},
		{ErrCodeInvalidTransition, http.StatusConflict},
		{ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{ErrCodeProviderSend, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithDetailsDoesNotMutate(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeTemplateData, "missing variables", nil, map[string]any{"kind": "payment_failed"})
	extended := base.WithDetails(map[string]any{"missing": []string{"amount"}})

	if _, ok := base.Details["missing"]; ok {
		t.Errorf("WithDetails must not mutate the receiver")
	}
	if extended.Details["kind"] != "payment_failed" {
		t.Errorf("WithDetails should keep existing details")
	}
}
