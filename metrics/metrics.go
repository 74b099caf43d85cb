// Package metrics holds the Prometheus instruments of the export pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crop_exporter"

// Pipeline groups the counters shared by the queue, writer, flush and uploader
type Pipeline struct {
	// Staging
	Enqueued      prometheus.Counter
	Dropped       prometheus.Counter
	Discarded     prometheus.Counter
	QueueDepth    prometheus.Gauge
	Written       prometheus.Counter
	WriteFailures prometheus.Counter

	// Windows
	Flushes         prometheus.Counter
	EmptyWindows    prometheus.Counter
	ArchiveFailures prometheus.Counter
	Submitted       prometheus.Counter
	SubmitFailures  prometheus.Counter
	ArchiveEntries  prometheus.Histogram
	RenamedEntries  prometheus.Counter

	// Outbox delivery
	Delivered        prometheus.Counter
	DeliveryFailures *prometheus.CounterVec
	OutboxBacklog    prometheus.Gauge
}

// NewPipeline registers the pipeline metrics on reg, labelled with the camera id
func NewPipeline(reg prometheus.Registerer, cameraID string) *Pipeline {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"camera_id": cameraID}

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Pipeline{
		Enqueued:      counter("records_enqueued_total", "Records accepted by the staging queue."),
		Dropped:       counter("records_dropped_total", "Records evicted from a full staging queue."),
		Discarded:     counter("records_discarded_total", "Records discarded from the queue on shutdown."),
		QueueDepth:    gauge("queue_depth", "Records currently waiting in the staging queue."),
		Written:       counter("records_written_total", "Records persisted to the staging directory."),
		WriteFailures: counter("record_write_failures_total", "Records dropped because the disk write failed."),

		Flushes:         counter("window_flushes_total", "Windows closed by the writer."),
		EmptyWindows:    counter("window_empty_total", "Windows closed without any staged file."),
		ArchiveFailures: counter("archive_failures_total", "Archive builds that failed."),
		Submitted:       counter("exports_submitted_total", "Archives accepted by the export sink."),
		SubmitFailures:  counter("export_submit_failures_total", "Archives rejected by the export sink."),
		ArchiveEntries: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "archive_entries",
			Help:        "Files per submitted archive.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
		}),

		RenamedEntries: counter("archive_entries_renamed_total", "Archive entries stored under a new name because the basename was taken."),

		Delivered: counter("outbox_delivered_total", "Outbox tasks delivered by the uploader."),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "outbox_delivery_failures_total",
			Help:        "Outbox delivery attempts that failed.",
			ConstLabels: labels,
		}, []string{"recoverable"}),
		OutboxBacklog: gauge("outbox_backlog", "Outbox tasks waiting for delivery."),
	}
}

// Discard returns metrics bound to a private registry, for components built
// without an explicit metrics instance
func Discard() *Pipeline {
	return NewPipeline(prometheus.NewRegistry(), "")
}
