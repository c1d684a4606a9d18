package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nearby_search_seconds",
		Help:    "Time spent answering nearby offer searches.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	searchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nearby_search_candidates",
		Help:    "Offers surviving the prefilter per search.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	searchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nearby_search_results",
		Help:    "Offers returned per search.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
	})
)
