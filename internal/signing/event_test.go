package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signflow/internal/common/errors"
)

var received = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestParseLifecycleEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    EventType
		payload Payload
	}{
		{
			name:    "identity succeeded with claims",
			body:    `{"type":"authentication.succeeded","data":{"session_id":"s-1","claims":{"name":"Ada","birthdate":"1815-12-10"}}}`,
			want:    EventIdentitySucceeded,
			payload: IdentityVerified{Claims: map[string]string{"name": "Ada", "birthdate": "1815-12-10"}},
		},
		{
			name:    "identity succeeded with flat fields",
			body:    `{"type":"authentication.succeeded","data":{"session_id":"s-1","national_id":"123"}}`,
			want:    EventIdentitySucceeded,
			payload: IdentityVerified{Claims: map[string]string{"national_id": "123"}},
		},
		{
			name:    "identity failed",
			body:    `{"type":"authentication.failed","data":{"session_id":"s-1","reason":"bankid timeout","code":"E12"}}`,
			want:    EventIdentityFailed,
			payload: Failure{Reason: "bankid timeout", Code: "E12"},
		},
		{
			name:    "signature completed",
			body:    `{"type":"signature.completed","data":{"session_id":"s-1","document_url":"https://files/doc.pdf"}}`,
			want:    EventSignatureCompleted,
			payload: Signed{DocumentURL: "https://files/doc.pdf"},
		},
		{
			name:    "signature rejected",
			body:    `{"type":"signature.rejected","data":{"session_id":"s-1","message":"declined"}}`,
			want:    EventSignatureRejected,
			payload: Failure{Reason: "declined"},
		},
		{
			name:    "session expired",
			body:    `{"type":"session.expired","data":{"session_id":"s-1"}}`,
			want:    EventSessionExpired,
			payload: Failure{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseLifecycleEvent([]byte(tt.body), received)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, "s-1", ev.SessionID)
			assert.Equal(t, tt.payload, ev.Payload)
			assert.Equal(t, received, ev.ReceivedAt)
		})
	}
}

func TestParseLifecycleEvent_Errors(t *testing.T) {
	_, err := ParseLifecycleEvent([]byte(`{not json`), received)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = ParseLifecycleEvent([]byte(`{"data":{"session_id":"s"}}`), received)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = ParseLifecycleEvent([]byte(`{"type":"signature.completed","data":{}}`), received)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = ParseLifecycleEvent([]byte(`{"type":"invoice.paid","data":{"session_id":"s"}}`), received)
	var unrecognized *UnrecognizedEventError
	require.ErrorAs(t, err, &unrecognized)
	assert.Equal(t, "invoice.paid", unrecognized.Type)
}

func TestParseCompletionEvent(t *testing.T) {
	ev, err := ParseCompletionEvent([]byte(`{"id":"s-1","status":"Completed","metadata":{"orderRef":"order-1","hostOrderRef":"host-1"},"documentUrl":"https://files/doc.pdf"}`), received)
	require.NoError(t, err)
	assert.Equal(t, EventCompletion, ev.Type)
	assert.Equal(t, "s-1", ev.SessionID)
	assert.Equal(t, "order-1", ev.OrderRefMeta)
	assert.Equal(t, Completion{Status: "completed", DocumentURL: "https://files/doc.pdf"}, ev.Payload)

	ev, err = ParseCompletionEvent([]byte(`{"status":"expired","metadata":{"hostOrderRef":"host-1"}}`), received)
	require.NoError(t, err)
	assert.Equal(t, "host-1", ev.OrderRefMeta)

	_, err = ParseCompletionEvent([]byte(`{"id":"s-1"}`), received)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = ParseCompletionEvent([]byte(`{"status":"completed"}`), received)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = ParseCompletionEvent([]byte(`[]`), received)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
