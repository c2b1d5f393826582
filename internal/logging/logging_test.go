// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("fetch ok", zap.Int("events", 3))
	Flush(logger)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "fetch ok", entry["msg"])
	assert.Equal(t, float64(3), entry["events"])
	assert.Contains(t, entry, "ts")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewFile_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, closer, err := NewFile("debug", "")
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closer())

	data, err := os.ReadFile(filepath.Join(home, ".usagepulse", DefaultLogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	base, err := New("info", &buf)
	require.NoError(t, err)

	assert.NotNil(t, FromContext(context.Background(), nil))
	assert.Same(t, base, FromContext(context.Background(), base))

	scoped := WithRequestID(base, "abc")
	ctx := WithContext(context.Background(), scoped)
	FromContext(ctx, base).Info("scoped")
	Flush(base)

	assert.Contains(t, buf.String(), `"req_id":"abc"`)
}
