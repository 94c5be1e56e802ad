// Package metrics exposes engine counters and gauges for Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ScanCycles counts completed admission scan passes.
	ScanCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "condorkeeper_scan_cycles_total",
		Help: "Number of completed admission scan cycles.",
	})

	// MonitorCycles counts completed position monitor passes.
	MonitorCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "condorkeeper_monitor_cycles_total",
		Help: "Number of completed position monitor cycles.",
	})

	// GateRejections counts admission rejections per gate.
	GateRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "condorkeeper_gate_rejections_total",
		Help: "Admission rejections by gate (regime, correlation, liquidity, greeks, limits, earnings, spread).",
	}, []string{"gate"})

	// PositionsOpened counts confirmed fills that became tracked positions.
	PositionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "condorkeeper_positions_opened_total",
		Help: "Positions opened on confirmed fills.",
	})

	// PositionsClosed counts position exits per reason.
	PositionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "condorkeeper_positions_closed_total",
		Help: "Positions closed by exit reason.",
	}, []string{"reason"})

	// RollsExecuted counts accepted rolls.
	RollsExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "condorkeeper_rolls_executed_total",
		Help: "Positions rolled to new strikes or expiration.",
	})

	// OpenPositions tracks the live position count.
	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "condorkeeper_open_positions",
		Help: "Currently open positions.",
	})

	// NetDelta tracks portfolio net delta in share-equivalent terms.
	NetDelta = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "condorkeeper_net_delta",
		Help: "Portfolio net delta, share equivalents.",
	})

	// NetTheta tracks portfolio net theta in dollars per day.
	NetTheta = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "condorkeeper_net_theta",
		Help: "Portfolio net theta, dollars per day.",
	})

	// DataUnavailable counts skipped decisions due to missing market data.
	DataUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "condorkeeper_data_unavailable_total",
		Help: "Decisions skipped because market data was unavailable, by symbol.",
	}, []string{"symbol"})
)

func init() {
	prometheus.MustRegister(
		ScanCycles,
		MonitorCycles,
		GateRejections,
		PositionsOpened,
		PositionsClosed,
		RollsExecuted,
		OpenPositions,
		NetDelta,
		NetTheta,
		DataUnavailable,
	)
}
