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

package main

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/shelf-go/pkg/actor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shelf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRootCommandReportsExitCode(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	var exit exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitConfig, exit.code)
	assert.Contains(t, out.String(), "Failed to load configuration")
}

func TestRootCommandRejectsArguments(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve"})
	assert.Error(t, cmd.Execute())
}

func TestRunExitCodes(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	missingDir := filepath.Join(t.TempDir(), "missing", "shelf.db")

	tests := []struct {
		name   string
		config string
		want   int
	}{
		{
			name:   "invalid config",
			config: "server:\n  listen_address: \"\"\n",
			want:   exitConfig,
		},
		{
			name:   "invalid log level",
			config: "log:\n  level: loud\n",
			want:   exitLogger,
		},
		{
			name:   "database unavailable",
			config: "database:\n  driver: sqlite3\n  path: " + missingDir + "\n",
			want:   exitDatabase,
		},
		{
			name: "event broker unavailable",
			config: "events:\n  broker: tcp://" + closedAddr(t) + "\n  connect_timeout: 1s\n" +
				"server:\n  listen_address: " + closedAddr(t) + "\n",
			want: exitNotifier,
		},
		{
			name:   "listener bind failure",
			config: "server:\n  listen_address: " + taken.Addr().String() + "\n",
			want:   exitBind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.want, run(writeConfig(t, tt.config), &out), out.String())
		})
	}
}

// firedSignals returns a signal source that already holds SIGTERM, so the
// coordinator fires as soon as it runs.
func firedSignals() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	ch <- syscall.SIGTERM
	return ch
}

type failingActor struct {
	name  string
	runFn func() actor.Summary
}

func (f *failingActor) Name() string { return f.name }

func (f *failingActor) Run() actor.Summary { return f.runFn() }

func TestRunStopsCleanlyOnSignal(t *testing.T) {
	var out bytes.Buffer
	path := writeConfig(t, "server:\n  listen_address: 127.0.0.1:0\n")

	assert.Equal(t, exitOK, run(path, &out, withSignals(firedSignals())), out.String())
	assert.Contains(t, out.String(), "Stopped")
}

func TestRunReportsAbnormalTermination(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: 127.0.0.1:0\n")

	tests := []struct {
		name  string
		runFn func() actor.Summary
	}{
		{
			name: "worker error",
			runFn: func() actor.Summary {
				return actor.Summary{Actor: "indexer", Err: errors.New("index corrupted")}
			},
		},
		{
			name: "worker panic",
			runFn: func() actor.Summary {
				panic("index corrupted")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			worker := &failingActor{name: "indexer", runFn: tt.runFn}
			code := run(path, &out, withSignals(firedSignals()), withActors(worker))
			assert.Equal(t, exitAbnormal, code, out.String())
			assert.Contains(t, out.String(), "Abnormal termination")
		})
	}
}
