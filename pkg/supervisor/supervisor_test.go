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

package supervisor

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/metrics"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockActor struct {
	name  string
	runFn func() actor.Summary
}

func (m *mockActor) Name() string { return m.name }

func (m *mockActor) Run() actor.Summary {
	return m.runFn()
}

func TestGroupRunNoSpecs(t *testing.T) {
	_, err := New(nil).Run(nil)
	assert.ErrorIs(t, err, ErrNoSpecs)
}

func TestGroupRunsAllConcurrently(t *testing.T) {
	// Each actor waits for every other one to start: this only finishes if
	// they all run at the same time.
	var started sync.WaitGroup
	started.Add(3)
	spec := func(name string, processed int) Spec {
		return Spec{Actor: &mockActor{name: name, runFn: func() actor.Summary {
			started.Done()
			started.Wait()
			return actor.Summary{Actor: name, Processed: processed}
		}}}
	}

	summaries, err := New(nil).Run([]Spec{spec("a", 1), spec("b", 2), spec("c", 3)})
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, summaries[i].Actor)
		assert.Equal(t, i+1, summaries[i].Processed)
	}
}

func TestGroupRecoversPanics(t *testing.T) {
	before := testutil.ToFloat64(metrics.ActorTerminationsTotal.WithLabelValues("panicking-actor", "panic"))

	specs := []Spec{
		{ID: "panicking-actor", Actor: &mockActor{runFn: func() actor.Summary {
			panic("something went horribly wrong")
		}}},
		{Actor: &mockActor{name: "calm", runFn: func() actor.Summary {
			return actor.Summary{}
		}}},
	}

	summaries, err := New(nil).Run(specs)
	assert.ErrorIs(t, err, ErrPanicked)
	assert.ErrorIs(t, summaries[0].Err, ErrPanicked)
	assert.Contains(t, summaries[0].Err.Error(), "something went horribly wrong")
	assert.Equal(t, "calm", summaries[1].Actor, "the actor name fills an empty summary")
	assert.NoError(t, summaries[1].Err)

	after := testutil.ToFloat64(metrics.ActorTerminationsTotal.WithLabelValues("panicking-actor", "panic"))
	assert.Equal(t, before+1, after)
}

func TestGroupReportsFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	specs := []Spec{
		{Actor: &mockActor{name: "ok", runFn: func() actor.Summary { return actor.Summary{Actor: "ok"} }}},
		{Actor: &mockActor{name: "bad", runFn: func() actor.Summary { return actor.Summary{Actor: "bad", Err: boom} }}},
	}

	summaries, err := New(nil).Run(specs)
	assert.ErrorIs(t, err, boom)
	assert.False(t, summaries[0].Failed())
	assert.True(t, summaries[1].Failed())
}
