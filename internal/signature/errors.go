package signature

import (
	"fmt"

	"signflow/internal/common/errors"
)

// Reason says why a delivery failed verification
type Reason string

const (
	ReasonMissing  Reason = "missing signature header"
	ReasonMismatch Reason = "signature mismatch"
)

// VerificationError is returned by VerifyRequest for a rejected delivery
type VerificationError struct {
	Reason Reason
	Header string
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("signature verification failed for header %s: %s", e.Header, e.Reason)
}

// AppError classifies the failure as an integrity error
func (e VerificationError) AppError() *errors.AppError {
	return errors.IntegrityError(string(e.Reason)).WithContext("header", e.Header)
}
