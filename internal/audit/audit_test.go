package audit

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := New(true, &buf)
	l.Log(Entry{RequestID: "r1", Method: "tools/call", Tool: "get_widget", ToolError: "not_found", Duration: time.Millisecond})

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "r1", got["request_id"])
	assert.Equal(t, "get_widget", got["tool"])
	assert.Equal(t, "not_found", got["tool_error"])
	assert.NotEmpty(t, got["time"])
}

func TestDisabled(t *testing.T) {
	var buf bytes.Buffer
	New(false, &buf).Log(Entry{Method: "ping"})
	assert.Zero(t, buf.Len())

	var l *Logger
	l.Log(Entry{Method: "ping"})
}
