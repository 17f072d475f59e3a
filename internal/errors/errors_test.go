package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantType ErrorType
	}{
		{"validation", ValidationError("bad email"), TypeValidation},
		{"not found", NotFoundError("account missing"), TypeNotFound},
		{"conflict", ConflictError("duplicate id"), TypeConflict},
		{"decryption", DecryptionError("tag mismatch", nil), TypeDecryption},
		{"storage", StorageError("write failed", nil), TypeStorage},
		{"external", ExternalError("provider down", nil), TypeExternal},
		{"internal", InternalError("unexpected", nil), TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.NotNil(t, tt.err.Context)
		})
	}
}

func TestError_Message(t *testing.T) {
	err := StorageError("write failed", fs.ErrPermission)
	assert.Equal(t, "storage: write failed: permission denied", err.Error())

	bare := NotFoundError("account missing")
	assert.Equal(t, "not_found: account missing", bare.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := fs.ErrNotExist
	err := StorageError("read failed", cause)

	assert.True(t, stderrors.Is(err, fs.ErrNotExist))
	assert.Equal(t, cause, err.Unwrap())
}

func TestError_As(t *testing.T) {
	wrapped := fmt.Errorf("loading accounts: %w", DecryptionError("tag mismatch", nil))

	var structured *Error
	require.True(t, stderrors.As(wrapped, &structured))
	assert.Equal(t, TypeDecryption, structured.Type)
}

func TestIsType(t *testing.T) {
	err := ConflictError("duplicate id")

	assert.True(t, IsType(err, TypeConflict))
	assert.False(t, IsType(err, TypeNotFound))
	assert.True(t, IsType(fmt.Errorf("adding account: %w", err), TypeConflict))
	assert.False(t, IsType(stderrors.New("plain"), TypeConflict))
	assert.False(t, IsType(nil, TypeConflict))
}

func TestWithContext(t *testing.T) {
	err := ValidationError("invalid email").
		WithContext("field", "email").
		WithField("account_id", "u1")

	assert.Equal(t, "email", err.Context["field"])
	assert.Equal(t, "u1", err.Context["account_id"])
}

func TestWithContext_NilMap(t *testing.T) {
	err := &Error{Type: TypeInternal, Message: "bare"}
	err.WithContext("key", "value")
	assert.Equal(t, "value", err.Context["key"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := NotFoundError("account missing")
	assert.Same(t, original, AsStructuredError(original))
	assert.Same(t, original, AsStructuredError(fmt.Errorf("wrapped: %w", original)))

	plain := stderrors.New("boom")
	converted := AsStructuredError(plain)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, plain, converted.Cause)
}
