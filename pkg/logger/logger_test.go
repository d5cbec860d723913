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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter("info", FormatJSON, &buf)
	require.NoError(t, err)

	l.Named("db").Info("query served", zap.String("kind", "select_many_books"))
	l.Debug("filtered out")
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "query served", entry["message"])
	assert.Equal(t, "INFO", entry["log.level"])
	assert.Equal(t, "select_many_books", entry["kind"])
	assert.Contains(t, entry, "@timestamp")
	assert.NotContains(t, buf.String(), "filtered out")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter("debug", FormatConsole, &buf)
	require.NoError(t, err)

	l.Warn("careful")
	assert.Contains(t, buf.String(), "careful")
	assert.Contains(t, buf.String(), "\x1b[33mWARN\x1b[0m")
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := NewWithWriter("loud", FormatJSON, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter("info", FormatJSON, &buf)
	require.NoError(t, err)

	ctx := NewContext(context.Background(), l, zap.String("request.id", "abc"))
	FromContext(ctx, nil).Info("handled")
	assert.Contains(t, buf.String(), `"request.id":"abc"`)

	assert.Same(t, l, FromContext(context.Background(), l))
	assert.NotNil(t, FromContext(context.Background(), nil))
}
