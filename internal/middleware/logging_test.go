package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"signflow/internal/common/logging"
	"signflow/internal/correlation"
	"signflow/internal/metrics"
)

func TestCorrelation_ReusesInboundHeader(t *testing.T) {
	var seen string
	h := Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := correlation.FromContext(r.Context())
		assert.True(t, ok)
		seen = c.ID
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(correlation.HeaderName, "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", seen)
	assert.Equal(t, "corr-123", rec.Header().Get(correlation.HeaderName))
}

func TestCorrelation_GeneratesID(t *testing.T) {
	h := Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderName))
}

func TestLogging_RecordsRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Logging(logging.NewNopLogger()))
	r.HandleFunc("/api/orders/{orderRef}/signing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/orders/{orderRef}/signing", "418")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/o-1/signing", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
