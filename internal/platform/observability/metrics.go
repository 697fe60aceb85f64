package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesift_pages_fetched_total",
		Help: "The total number of pages fetched, by winning strategy",
	}, []string{"strategy"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesift_fetch_errors_total",
		Help: "The total number of failed fetches, by class",
	}, []string{"class"})

	BlocksDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesift_blocks_detected_total",
		Help: "The total number of bot blocks detected, by kind",
	}, []string{"kind"})

	ExtractionMethods = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesift_extraction_method_total",
		Help: "The total number of extractions, by winning method",
	}, []string{"method"})

	CrawlSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesift_crawl_skips_total",
		Help: "The total number of crawl skips, by reason",
	}, []string{"reason"})

	ArticlesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagesift_articles_emitted_total",
		Help: "The total number of articles emitted by the crawler",
	})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagesift_fetch_duration_seconds",
		Help:    "Duration of page fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	FrontierSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagesift_frontier_size",
		Help: "Number of URLs waiting in the crawl frontier",
	})
)
