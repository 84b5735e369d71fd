package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

func TestSinkCounters(t *testing.T) {
	var s Sink

	before := testutil.ToFloat64(ChecksStarted)
	s.CheckStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(ChecksStarted))

	timeouts := ChecksFinished.WithLabelValues(core.CheckOutcomeTimeout)
	before = testutil.ToFloat64(timeouts)
	s.CheckFinished(core.CheckOutcomeTimeout)
	assert.Equal(t, before+1, testutil.ToFloat64(timeouts))

	name := UpdateReasons.WithLabelValues(model.UpdateReasonNameDiffers.String())
	before = testutil.ToFloat64(name)
	s.UpdateReason(model.UpdateReasonNameDiffers)
	assert.Equal(t, before+1, testutil.ToFloat64(name))

	forced := RequestsQueued.WithLabelValues("true")
	before = testutil.ToFloat64(forced)
	s.RequestQueued(true)
	assert.Equal(t, before+1, testutil.ToFloat64(forced))

	failed := DeliveriesFinished.WithLabelValues(model.InstallResultFailure.String())
	before = testutil.ToFloat64(failed)
	s.DeliveryFinished(model.InstallResultFailure)
	assert.Equal(t, before+1, testutil.ToFloat64(failed))
}

func TestHandlerServesRegistry(t *testing.T) {
	RegisterBrokerStatus(func() bool { return true })
	ScheduledDeliveries.Set(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "webapkd_scheduled_deliveries 3"))
	assert.True(t, strings.Contains(body, "webapkd_broker_connected 1"))
}
