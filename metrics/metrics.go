// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exports pakbus network counters and clock check results
// to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/destiny/pakbus"
	"github.com/destiny/pakbus/bmp5"
)

const namespace = "pakbus"

// StatsSource is anything that can report network counters. Stats must be
// safe to call from the scraping goroutine.
type StatsSource interface {
	Stats() pakbus.Stats
}

// Collector reads a StatsSource on every scrape.
type Collector struct {
	src StatsSource

	attempts  *prometheus.Desc
	retries   *prometheus.Desc
	failures  *prometheus.Desc
	framesIn  *prometheus.Desc
	framesOut *prometheus.Desc
	bytesIn   *prometheus.Desc
	bytesOut  *prometheus.Desc
	links     *prometheus.Desc
	neighbors *prometheus.Desc
	stations  *prometheus.Desc
}

// NewCollector returns a collector labelling every series with node, the
// local PakBus address.
func NewCollector(src StatsSource, node pakbus.Address) *Collector {
	labels := prometheus.Labels{"node": node.String()}
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, labels)
	}
	return &Collector{
		src:       src,
		attempts:  desc("comms", "attempts_total", "Messages sent, including hello commands."),
		retries:   desc("comms", "retries_total", "Messages resent after a timeout."),
		failures:  desc("comms", "failures_total", "Transactions failed by the network."),
		framesIn:  desc("frames", "received_total", "Frames decoded from the stream."),
		framesOut: desc("frames", "sent_total", "Frames written to the stream."),
		bytesIn:   desc("stream", "read_bytes_total", "Bytes read from the stream."),
		bytesOut:  desc("stream", "written_bytes_total", "Bytes written to the stream."),
		links:     desc("", "links", "Links currently tracked."),
		neighbors: desc("", "neighbors", "Neighbors currently known."),
		stations:  desc("", "stations", "Stations registered."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.attempts
	ch <- c.retries
	ch <- c.failures
	ch <- c.framesIn
	ch <- c.framesOut
	ch <- c.bytesIn
	ch <- c.bytesOut
	ch <- c.links
	ch <- c.neighbors
	ch <- c.stations
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter(c.attempts, s.CommsAttempts)
	counter(c.retries, s.CommsRetries)
	counter(c.failures, s.CommsFailures)
	counter(c.framesIn, s.FramesIn)
	counter(c.framesOut, s.FramesOut)
	counter(c.bytesIn, s.BytesIn)
	counter(c.bytesOut, s.BytesOut)
	gauge(c.links, s.Links)
	gauge(c.neighbors, s.Neighbors)
	gauge(c.stations, s.Stations)
}

var (
	registerOnce sync.Once

	clockChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clock",
			Name:      "checks_total",
			Help:      "Clock transactions by outcome.",
		},
		[]string{"station", "outcome"},
	)
	clockOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "clock",
			Name:      "offset_seconds",
			Help:      "Host time minus logger time at the last successful check.",
		},
		[]string{"station"},
	)
	clockRoundTrip = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "clock",
			Name:      "round_trip_seconds",
			Help:      "Clock command round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"station"},
	)
)

// RegisterMetrics registers the clock series with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(clockChecks, clockOffset, clockRoundTrip)
	})
}

// RecordClock records a completed clock transaction. offset is only used
// when the logger answered.
func RecordClock(station pakbus.Address, r bmp5.ClockResult, offset time.Duration) {
	RegisterMetrics()
	label := station.String()
	clockChecks.WithLabelValues(label, r.Outcome.String()).Inc()
	if !r.Outcome.Succeeded() {
		return
	}
	clockOffset.WithLabelValues(label).Set(offset.Seconds())
	clockRoundTrip.WithLabelValues(label).Observe(r.RoundTrip.Seconds())
}
