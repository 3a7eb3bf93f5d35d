package models

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dimsLabel   = "dims"
	kindLabel   = "kind"
	resultLabel = "result"

	queryKindRange  = "range"
	queryKindRadius = "radius"
)

var (
	treeCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tree_count",
		Help: "The number of trees.",
	}, []string{dimsLabel})

	treeCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tree_count_total",
		Help: "The total number of trees.",
	}, []string{dimsLabel})

	pointCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "point_count_total",
		Help: "The total number of points submitted for insertion.",
	}, []string{dimsLabel, resultLabel})

	queryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "query_latency_seconds",
		Help:    "The time taken to answer a query.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{dimsLabel, kindLabel})

	snapshotSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snapshot_size_bytes",
		Help:    "The size of the saved tree snapshots.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	}, []string{dimsLabel})
)

func instrumentIncreaseTreeGauge(dims int) {
	labels := prometheus.Labels{dimsLabel: strconv.Itoa(dims)}
	treeCount.With(labels).Inc()
	treeCountTotal.With(labels).Inc()
}

func instrumentDecreaseTreeGauge(dims int) {
	treeCount.
		With(prometheus.Labels{dimsLabel: strconv.Itoa(dims)}).
		Dec()
}

func instrumentInsert(dims, inserted, rejected int) {
	d := strconv.Itoa(dims)
	if inserted > 0 {
		pointCountTotal.
			With(prometheus.Labels{dimsLabel: d, resultLabel: "inserted"}).
			Add(float64(inserted))
	}
	if rejected > 0 {
		pointCountTotal.
			With(prometheus.Labels{dimsLabel: d, resultLabel: "rejected"}).
			Add(float64(rejected))
	}
}

func instrumentQueryLatency(dims int, kind string, start time.Time) {
	queryLatency.
		With(prometheus.Labels{dimsLabel: strconv.Itoa(dims), kindLabel: kind}).
		Observe(time.Since(start).Seconds())
}

func instrumentSnapshotSize(dims, size int) {
	snapshotSize.
		With(prometheus.Labels{dimsLabel: strconv.Itoa(dims)}).
		Observe(float64(size))
}
