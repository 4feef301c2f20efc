package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signflow/internal/common/errors"
)

type signer struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=2"`
}

type request struct {
	OrderRef string `json:"orderRef" validate:"required"`
	Signer   signer `json:"signer"`
}

func TestStruct_Valid(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(request{OrderRef: "o-1", Signer: signer{Email: "a@b.no", Name: "Ada"}}))
}

func TestStruct_FieldErrors(t *testing.T) {
	v := New()
	err := v.Struct(request{Signer: signer{Email: "not-an-email", Name: "A"}})
	require.Error(t, err)

	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrTypeValidation, appErr.Type)
	assert.Equal(t, "orderRef is required", appErr.Fields["orderRef"])
	assert.Equal(t, "signer.email must be a valid email address", appErr.Fields["signer.email"])
	assert.Equal(t, "signer.name must be at least 2 characters", appErr.Fields["signer.name"])
}

func TestStruct_SingleErrorUsesFieldMessage(t *testing.T) {
	err := New().Struct(request{OrderRef: "o", Signer: signer{Email: "a@b.no", Name: "A"}})
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "signer.name must be at least 2 characters", appErr.Message)
}

func TestVar(t *testing.T) {
	v := New()
	assert.NoError(t, v.Var("email", "a@b.no", "required,email"))

	err := v.Var("email", "nope", "required,email")
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "email must be a valid email address", appErr.Fields["email"])
}
