package server

import (
	"github.com/Kishor-9361/NET-sim/observer"
	"github.com/Kishor-9361/NET-sim/pty"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics mirrors the envd monitor package's per-gauge-field struct
// shape, generalized from host memory/network stats to orchestrator
// object counts and drop counters. ptySessions, observersFailed and
// packetsDropped are *Func metrics so they read straight off the
// manager they describe at scrape time, rather than needing a second
// place in this codebase to remember to keep them current.
type metrics struct {
	devicesTotal    prometheus.Gauge
	linksTotal      prometheus.Gauge
	ptySessions     prometheus.GaugeFunc
	observersFailed prometheus.GaugeFunc
	packetsDropped  prometheus.CounterFunc
	requestsTotal   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, ptyMgr *pty.Manager, obsMgr *observer.Manager) *metrics {
	m := &metrics{
		devicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{Subsystem: "topology", Name: "devices_total"}),
		linksTotal:   prometheus.NewGauge(prometheus.GaugeOpts{Subsystem: "topology", Name: "links_total"}),
		ptySessions: prometheus.NewGaugeFunc(prometheus.GaugeOpts{Subsystem: "pty", Name: "sessions_total"},
			func() float64 { return float64(ptyMgr.Count()) }),
		observersFailed: prometheus.NewGaugeFunc(prometheus.GaugeOpts{Subsystem: "observer", Name: "failed_total"},
			func() float64 { return float64(obsMgr.FailedCount()) }),
		packetsDropped: prometheus.NewCounterFunc(prometheus.CounterOpts{Subsystem: "observer", Name: "packets_dropped_total"},
			func() float64 { return float64(obsMgr.FanOut().Dropped()) }),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: "control", Name: "requests_total"},
			[]string{"route", "status"}),
	}
	reg.MustRegister(m.devicesTotal, m.linksTotal, m.ptySessions, m.observersFailed, m.packetsDropped, m.requestsTotal)
	return m
}
