package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusMapping(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("ID is required"), TypeValidation, http.StatusBadRequest},
		{"not found", NotFoundError("scan not found"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("duplicate scan"), TypeConflict, http.StatusConflict},
		{"internal", InternalError("Failed to save scan", cause), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("relay unavailable", cause), TypeExternal, http.StatusBadGateway},
		{"unavailable", UnavailableError("database down", cause), TypeUnavailable, http.StatusServiceUnavailable},
		{"unknown type", &Error{Type: "weird", Message: "x"}, "weird", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := InternalError("Failed to save scan", fmt.Errorf("connection refused"))
	assert.Equal(t, "internal: Failed to save scan: connection refused", err.Error())

	err = ValidationError("ID is required")
	assert.Equal(t, "validation: ID is required", err.Error())
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestError_UnwrapSupportsErrorsIs(t *testing.T) {
	cause := errors.New("deadline exceeded")
	err := InternalError("Failed to save scan", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithField_ChainsAndInitializesContext(t *testing.T) {
	err := (&Error{Type: TypeValidation, Message: "bad"}).
		WithField("tag_id", "A1").
		WithField("remote_addr", "10.0.0.7")

	assert.Equal(t, "A1", err.Context["tag_id"])
	assert.Equal(t, "10.0.0.7", err.Context["remote_addr"])
}

func TestToResponse_OmitsContext(t *testing.T) {
	err := InternalError("Failed to save scan", errors.New("pq: password authentication failed")).
		WithField("dsn_host", "db.internal")

	body, jsonErr := json.Marshal(err.ToResponse())
	require.NoError(t, jsonErr)
	assert.JSONEq(t, `{"error":"Failed to save scan","type":"internal"}`, string(body))
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ValidationError("ID is required")
	assert.Same(t, original, AsStructuredError(original))

	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("unexpected")
	converted := AsStructuredError(plain)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, "internal server error", converted.Message)
	assert.ErrorIs(t, converted, plain)
}
