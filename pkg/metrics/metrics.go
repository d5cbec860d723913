// Copyright 2024 The shelf-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package metrics provides Prometheus metrics for the application.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DBQueriesTotal counts queries served by the database actor.
	DBQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_db_queries_total",
		Help: "The total number of queries executed by the database actor.",
	},
		[]string{"kind", "outcome"},
	)

	// DBQueryDuration observes how long the database actor spent on a query.
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shelf_db_query_duration_seconds",
		Help:    "Time spent executing a query against the database.",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"kind"},
	)

	// ReplyFailuresTotal counts replies that could not be delivered because
	// the caller had stopped waiting.
	ReplyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_reply_failures_total",
		Help: "The total number of replies dropped because the caller abandoned them.",
	},
		[]string{"actor"},
	)

	// EventsPublishedTotal counts change events handed to the MQTT broker.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_events_published_total",
		Help: "The total number of change events published.",
	},
		[]string{"kind", "outcome"},
	)

	// HTTPRequestsTotal counts requests served by the web actor.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_http_requests_total",
		Help: "The total number of HTTP requests served.",
	},
		[]string{"route", "code"},
	)

	// ShutdownsTotal counts global shutdown events by cause.
	ShutdownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_shutdowns_total",
		Help: "The total number of times the global shutdown signal fired.",
	},
		[]string{"cause"},
	)

	// ActorTerminationsTotal counts actor terminations observed by the supervisor.
	ActorTerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_actor_terminations_total",
		Help: "The total number of times a supervised actor terminated.",
	},
		[]string{"actor", "outcome"},
	)
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
