// Copyright 2023 The Cuber Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "SchemaCatalog"
	subsystem = "metadata"
)

var (
	Registry = prometheus.NewRegistry()

	AppendedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "appended_records_total",
		Help:      "Records appended to the metadata log by the write path.",
	})
	AppendRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_retries_total",
		Help:      "Transient metadata log append failures that were retried.",
	})
	AppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_failures_total",
		Help:      "Metadata writes rejected because the log append failed.",
	})
	AppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_duration_seconds",
		Help:      "Latency of metadata log appends including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	AppliedBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "applied_batches_total",
		Help:      "Consumed log batches applied to the in-memory view.",
	})
	ApplyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "apply_failures_total",
		Help:      "Consumed log batches whose application failed; their notification is skipped.",
	})
	Notifications = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notifications_total",
		Help:      "Subjects-updated notifications delivered to listeners.",
	})
	Subjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "subjects",
		Help:      "Subjects currently holding metadata.",
	})
	AppliedSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "applied_seq",
		Help:      "Sequence of the last log record applied by the consumer.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		AppendedRecords,
		AppendRetries,
		AppendFailures,
		AppendDuration,
		AppliedBatches,
		ApplyFailures,
		Notifications,
		Subjects,
		AppliedSeq,
	)
}
