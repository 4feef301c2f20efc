package signature

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
)

const testSecret = "whsec_test"

var testBody = []byte(`{"type":"signature.completed","data":{"session_id":"sess-1"}}`)

func TestVerify_ValidSignature(t *testing.T) {
	sig := Sign(testBody, testSecret)
	assert.True(t, Verify(testBody, sig, testSecret))
	assert.True(t, Verify(testBody, "sha256="+sig, testSecret))
	assert.True(t, Verify(testBody, "SHA256="+sig, testSecret))
	assert.True(t, Verify(testBody, " "+sig+" ", testSecret))
}

func TestVerify_Rejections(t *testing.T) {
	sig := Sign(testBody, testSecret)

	assert.False(t, Verify(testBody, sig, ""), "empty secret")
	assert.False(t, Verify(testBody, "", testSecret), "empty header")
	assert.False(t, Verify(testBody, "sha256=", testSecret), "prefix only")
	assert.False(t, Verify(testBody, "not-hex", testSecret), "not hex")
	assert.False(t, Verify(testBody, sig, "other-secret"), "wrong secret")
	assert.False(t, Verify(testBody, sig[:len(sig)-2], testSecret), "truncated")
}

func TestVerify_EveryTamperedByteRejected(t *testing.T) {
	sig := Sign(testBody, testSecret)

	for i := range testBody {
		tampered := bytes.Clone(testBody)
		tampered[i] ^= 0x01
		assert.False(t, Verify(tampered, sig, testSecret), "byte %d flipped", i)
	}

	assert.False(t, Verify(append(bytes.Clone(testBody), ' '), sig, testSecret), "appended byte")
	assert.False(t, Verify(testBody[:len(testBody)-1], sig, testSecret), "dropped byte")
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeEnforce, mode)

	mode, err = ParseMode("Disabled")
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, mode)

	_, err = ParseMode("off")
	assert.Error(t, err)
}

func TestNewVerifier(t *testing.T) {
	t.Run("enforce requires secret", func(t *testing.T) {
		_, err := NewVerifier(Config{Mode: ModeEnforce}, logging.NewNopLogger())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
	})

	t.Run("defaults", func(t *testing.T) {
		v, err := NewVerifier(Config{Secret: testSecret}, logging.NewNopLogger())
		require.NoError(t, err)
		assert.Equal(t, ModeEnforce, v.Mode())
		assert.Equal(t, DefaultHeader, v.Header())
	})

	t.Run("disabled without secret", func(t *testing.T) {
		v, err := NewVerifier(Config{Mode: ModeDisabled}, logging.NewNopLogger())
		require.NoError(t, err)
		assert.Equal(t, ModeDisabled, v.Mode())
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := NewVerifier(Config{Mode: "lenient", Secret: testSecret}, logging.NewNopLogger())
		assert.Error(t, err)
	})
}

func TestVerifyRequest(t *testing.T) {
	v, err := NewVerifier(Config{Secret: testSecret, Header: "X-Provider-Signature"}, logging.NewNopLogger())
	require.NoError(t, err)

	newReq := func(sig string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/signing", bytes.NewReader(testBody))
		if sig != "" {
			r.Header.Set("X-Provider-Signature", sig)
		}
		return r
	}

	assert.NoError(t, v.VerifyRequest(newReq("sha256="+Sign(testBody, testSecret)), testBody))

	err = v.VerifyRequest(newReq(""), testBody)
	var verr VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "X-Provider-Signature", verr.Header)
	assert.Equal(t, ReasonMissing, verr.Reason)
	assert.Equal(t, errors.ErrTypeIntegrity, verr.AppError().Type)

	err = v.VerifyRequest(newReq(Sign([]byte("other"), testSecret)), testBody)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonMismatch, verr.Reason)
}

func TestVerifyRequest_Disabled(t *testing.T) {
	v, err := NewVerifier(Config{Mode: ModeDisabled}, logging.NewNopLogger())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/webhooks/signing", bytes.NewReader(testBody))
	assert.NoError(t, v.VerifyRequest(r, testBody))
}
