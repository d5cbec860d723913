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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	assert.NotNil(t, DBQueriesTotal)
	assert.NotNil(t, DBQueryDuration)
	assert.NotNil(t, ReplyFailuresTotal)
	assert.NotNil(t, EventsPublishedTotal)
	assert.NotNil(t, HTTPRequestsTotal)
	assert.NotNil(t, ShutdownsTotal)
	assert.NotNil(t, ActorTerminationsTotal)
}

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	// Trigger the metrics so they appear in the output
	DBQueriesTotal.WithLabelValues("select_many_books", "ok").Inc()
	DBQueryDuration.WithLabelValues("select_many_books").Observe(0.01)
	ReplyFailuresTotal.WithLabelValues("db").Inc()
	ShutdownsTotal.WithLabelValues("web_server").Inc()
	ActorTerminationsTotal.WithLabelValues("db", "normal").Inc()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	for _, name := range []string{
		"shelf_db_queries_total",
		"shelf_db_query_duration_seconds",
		"shelf_reply_failures_total",
		"shelf_shutdowns_total",
		"shelf_actor_terminations_total",
	} {
		assert.Contains(t, string(body), name)
	}
}
