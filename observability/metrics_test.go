package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"tokensale/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string { return e.evt.Type }

func (e testEvent) Event() *types.Event { return e.evt }

func TestSaleMetrics(t *testing.T) {
	m := Sale()
	m.ObserveOperation("contribute", nil, 10*time.Millisecond)
	m.ObserveOperation("contribute", errors.New("boom"), time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("contribute", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("contribute", "error")))

	m.SetRaised(big.NewInt(250))
	require.Equal(t, float64(250), testutil.ToFloat64(m.raised))

	before := testutil.ToFloat64(m.refunded)
	m.AddRefund(big.NewInt(-1))
	m.AddRefund(big.NewInt(50))
	require.Equal(t, before+50, testutil.ToFloat64(m.refunded))

	m.RecordSettlement(big.NewInt(5551))
	require.Equal(t, float64(1), testutil.ToFloat64(m.settled))
	require.Equal(t, float64(5551), testutil.ToFloat64(m.issued))
}

func TestEventMetricsEmitter(t *testing.T) {
	registry := Events()
	counter := registry.emitted.WithLabelValues("crowdsale.settled")
	before := testutil.ToFloat64(counter)
	registry.Emit(testEvent{evt: &types.Event{Type: " Crowdsale.Settled "}})
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestGatewayMetrics(t *testing.T) {
	m := Gateway()
	require.Same(t, m, Gateway())
	m.Observe("contributions", "POST", 429, time.Millisecond)
	m.RecordThrottle("contributions", "rate_limit")
	m.RecordIdempotency("replayed")
	require.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("contributions", "POST", "429")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.throttles.WithLabelValues("contributions", "rate_limit")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.replays.WithLabelValues("replayed")))

	before := testutil.ToFloat64(m.streams)
	closeStream := m.StreamOpened()
	require.Equal(t, before+1, testutil.ToFloat64(m.streams))
	closeStream()
	closeStream()
	require.Equal(t, before, testutil.ToFloat64(m.streams))
}
