package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsRequestCountByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/devices/{id}", "200"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/devices/42", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/devices/{id}", "200"))
	require.Equal(t, before+1, after)
}

func TestRecordPoll_IncrementsCounterForState(t *testing.T) {
	before := testutil.ToFloat64(PollsTotal.WithLabelValues("ok"))
	RecordPoll("ok", 0)
	after := testutil.ToFloat64(PollsTotal.WithLabelValues("ok"))
	require.Equal(t, before+1, after)
}

func TestRecordWebhookDelivery_TracksSuccessAndFailure(t *testing.T) {
	beforeSuccess := testutil.ToFloat64(WebhookDeliveriesTotal.WithLabelValues("success"))
	RecordWebhookDelivery(nil)
	require.Equal(t, beforeSuccess+1, testutil.ToFloat64(WebhookDeliveriesTotal.WithLabelValues("success")))

	beforeFailure := testutil.ToFloat64(WebhookDeliveriesTotal.WithLabelValues("failure"))
	RecordWebhookDelivery(errFake)
	require.Equal(t, beforeFailure+1, testutil.ToFloat64(WebhookDeliveriesTotal.WithLabelValues("failure")))
}

var errFake = fakeErr("dial tcp: timeout")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
