// Package metrics has prometheus metric variables/functions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBuild = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapsearch_build_total",
			Help: "Search programs built, by result.",
		},
		[]string{
			"result", // ok, unsupported, error
		},
	)
	metricExtension = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapsearch_extension_total",
			Help: "Search programs built that need an IMAP extension, by extension.",
		},
		[]string{
			"extension", // WITHIN, CONDSTORE, SEARCHRES, SEARCH=FUZZY
		},
	)
	metricWithinFallback = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imapsearch_within_fallback_total",
			Help: "Interval searches turned into date searches because the server lacks WITHIN.",
		},
	)
)

func BuildInc(result string) {
	metricBuild.WithLabelValues(result).Inc()
}

func ExtensionInc(ext string) {
	metricExtension.WithLabelValues(ext).Inc()
}

func WithinFallbackInc() {
	metricWithinFallback.Inc()
}
