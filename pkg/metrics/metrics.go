// Package metrics registers the Prometheus series the exchange updates
// while it runs:
//   - perpbook_orders_total{symbol,side,type}  – orders accepted
//   - perpbook_fills_total{symbol}             – individual fills
//   - perpbook_fill_volume_base{symbol}        – base atoms traded
//   - perpbook_liquidations_total{symbol}      – completed liquidations
//   - perpbook_funding_cranks_total{symbol}    – cranks that settled
//   - perpbook_funding_rate{symbol}            – last funding rate (1e9 = 100%)
//   - perpbook_free_blocks{symbol}             – market buffer free pool
//
// Served by the API server at /metrics in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbook_orders_total",
			Help: "Orders accepted",
		},
		[]string{"symbol", "side", "type"},
	)

	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbook_fills_total",
			Help: "Fills executed",
		},
		[]string{"symbol"},
	)

	FillVolumeBase = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbook_fill_volume_base",
			Help: "Base atoms traded",
		},
		[]string{"symbol"},
	)

	Liquidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbook_liquidations_total",
			Help: "Completed liquidations",
		},
		[]string{"symbol"},
	)

	FundingCranks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbook_funding_cranks_total",
			Help: "Funding cranks that settled positions",
		},
		[]string{"symbol"},
	)

	FundingRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpbook_funding_rate",
			Help: "Last funding rate, scaled by 1e9",
		},
		[]string{"symbol"},
	)

	FreeBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpbook_free_blocks",
			Help: "Free blocks in the market buffer",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		Fills,
		FillVolumeBase,
		Liquidations,
		FundingCranks,
		FundingRate,
		FreeBlocks,
	)
}
