package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAccumulate(t *testing.T) {
	before := testutil.ToFloat64(ScanCycles)
	ScanCycles.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ScanCycles))

	GateRejections.WithLabelValues("liquidity").Inc()
	GateRejections.WithLabelValues("liquidity").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(GateRejections.WithLabelValues("liquidity")))
}

func TestGaugesSet(t *testing.T) {
	OpenPositions.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(OpenPositions))

	NetDelta.Set(-42.5)
	assert.Equal(t, -42.5, testutil.ToFloat64(NetDelta))
}
