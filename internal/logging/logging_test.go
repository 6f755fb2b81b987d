package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "", true)
	l.Debug("hidden")
	l.Info("visible", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "visible", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestNew_DevelopmentDefaultsToDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "", false)
	l.Debug("dbg")
	assert.Contains(t, buf.String(), "msg=dbg")
}

func TestNew_ExplicitLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn", false)
	l.Info("nope")
	assert.Empty(t, buf.String())
	l.Warn("yes")
	assert.Contains(t, buf.String(), "msg=yes")
}

func TestContextRoundTrip(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := IntoContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}
