package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_client_active_subscriptions",
		Help: "Live realtime subscriptions",
	})
	RealtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_client_realtime_events_total",
		Help: "Realtime events delivered to handlers",
	}, []string{"table", "type"})
	LedgerMerges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_client_ledger_merges_total",
		Help: "Ledger merge outcomes",
	}, []string{"result"})
	Sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_client_sends_total",
		Help: "Outbound message outcomes",
	}, []string{"outcome"})
	ViewClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_client_view_connections",
		Help: "Active view websocket connections",
	})

	once sync.Once
)

func Init() {
	once.Do(func() {
		prometheus.MustRegister(ActiveSubscriptions, RealtimeEvents, LedgerMerges, Sends, ViewClients)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
