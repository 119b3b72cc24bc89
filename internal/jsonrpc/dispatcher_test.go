package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/modelmcp/internal/audit"
	"github.com/xscopehub/modelmcp/internal/metrics"
	"github.com/xscopehub/modelmcp/internal/registry"
	"github.com/xscopehub/modelmcp/internal/store"
	"github.com/xscopehub/modelmcp/internal/tools"
	"github.com/xscopehub/modelmcp/internal/types"
)

type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

func widget() types.ModelDescriptor {
	return types.ModelDescriptor{
		Name: "widget",
		Attributes: []types.Attribute{
			{Name: "id"},
			{Name: "name"},
			{Name: "price"},
		},
		Writable: []string{"name", "price"},
	}
}

func newDispatcher(t *testing.T) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	reg := registry.New(tools.NewFactory(store.NewMemory()), nil)
	require.NoError(t, reg.Rebuild([]types.ModelDescriptor{widget()}))
	var auditBuf bytes.Buffer
	d := NewDispatcher(Options{
		Tools:   reg,
		Server:  ServerInfo{Name: "modelmcp", Version: "1.0.0", Instructions: "CRUD over widgets"},
		Audit:   audit.New(true, &auditBuf),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	return d, &auditBuf
}

func handle(t *testing.T, d *Dispatcher, raw string) reply {
	t.Helper()
	out := d.Handle(context.Background(), []byte(raw))
	require.NotNil(t, out, "expected a reply for %s", raw)
	var r reply
	require.NoError(t, json.Unmarshal(out, &r))
	assert.Equal(t, "2.0", r.JSONRPC)
	assert.False(t, r.Result != nil && r.Error != nil, "reply carries both result and error")
	assert.True(t, r.Result != nil || r.Error != nil, "reply carries neither result nor error")
	return r
}

func toolResult(t *testing.T, r reply) types.ToolResult {
	t.Helper()
	require.Nil(t, r.Error)
	var res types.ToolResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	return res
}

func TestParseError(t *testing.T) {
	d, _ := newDispatcher(t)
	r := handle(t, d, `{"jsonrpc":"2.0","method":`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeParseError, r.Error.Code)
	assert.Contains(t, r.Error.Message, "Parse error")
	assert.Equal(t, "null", string(r.ID))
}

func TestInvalidRequest(t *testing.T) {
	d, _ := newDispatcher(t)
	cases := map[string]string{
		"array":       `[1,2]`,
		"version":     `{"jsonrpc":"1.0","method":"ping","id":1}`,
		"no method":   `{"jsonrpc":"2.0","id":1}`,
		"bad id type": `{"jsonrpc":"2.0","method":"ping","id":{"a":1}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			r := handle(t, d, raw)
			require.NotNil(t, r.Error)
			assert.Equal(t, CodeInvalidRequest, r.Error.Code)
		})
	}
	r := handle(t, d, `{"jsonrpc":"1.0","method":"ping","id":"abc"}`)
	assert.Equal(t, `"abc"`, string(r.ID))
}

func TestIDEchoed(t *testing.T) {
	d, _ := newDispatcher(t)
	for _, id := range []string{`7`, `"req-7"`, `1.5e3`, `null`} {
		r := handle(t, d, `{"jsonrpc":"2.0","method":"ping","id":`+id+`}`)
		assert.Equal(t, id, string(r.ID))
		assert.JSONEq(t, `{}`, string(r.Result))
	}
}

func TestUnknownMethodAndTool(t *testing.T) {
	d, _ := newDispatcher(t)
	r := handle(t, d, `{"jsonrpc":"2.0","method":"frobnicate","id":1}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeMethodNotFound, r.Error.Code)
	assert.Contains(t, r.Error.Message, "frobnicate")

	r = handle(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"get_gadget","arguments":{"id":1}},"id":2}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeMethodNotFound, r.Error.Code)
	assert.Contains(t, r.Error.Message, "get_gadget")
	assert.Equal(t, "2", string(r.ID))
}

func TestInitializeAndList(t *testing.T) {
	d, _ := newDispatcher(t)
	r := handle(t, d, `{"jsonrpc":"2.0","method":"initialize","params":{},"id":1}`)
	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
		Instructions string `json:"instructions"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &init))
	assert.Equal(t, ProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, "modelmcp", init.ServerInfo.Name)
	assert.Equal(t, "CRUD over widgets", init.Instructions)

	r = handle(t, d, `{"jsonrpc":"2.0","method":"tools/list","id":2}`)
	var list struct {
		Tools []types.ToolDescriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &list))
	require.Len(t, list.Tools, 5)
	assert.Equal(t, "list_widgets", list.Tools[0].Name)
	assert.Equal(t, []string{"name", "price"}, list.Tools[2].InputSchema.Required)
}

func TestMissingRequiredParam(t *testing.T) {
	d, _ := newDispatcher(t)
	r := handle(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"get_widget","arguments":{}},"id":3}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidParams, r.Error.Code)
	assert.Contains(t, r.Error.Message, "id")

	r = handle(t, d, `{"jsonrpc":"2.0","method":"get_widget","params":[1],"id":4}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidParams, r.Error.Code)

	r = handle(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"get_widget","arguments":"x"},"id":5}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidParams, r.Error.Code)
}

func TestWidgetScenarioOverJSONRPC(t *testing.T) {
	d, audits := newDispatcher(t)

	r := handle(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"create_widget","arguments":{"name":"Bolt","price":3}},"id":1}`)
	created := toolResult(t, r)
	require.False(t, created.IsError, created.Content[0].Text)

	var record struct {
		ID json.Number `json:"id"`
	}
	raw, err := json.Marshal(created.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &record))

	r = handle(t, d, `{"jsonrpc":"2.0","method":"get_widget","params":{"id":`+record.ID.String()+`},"id":2}`)
	got := toolResult(t, r)
	require.False(t, got.IsError)
	assert.Contains(t, got.Content[0].Text, `"name": "Bolt"`)
	assert.Contains(t, got.Content[0].Text, `"price": 3`)

	r = handle(t, d, `{"jsonrpc":"2.0","method":"get_widget","params":{"id":999},"id":3}`)
	missing := toolResult(t, r)
	assert.True(t, missing.IsError)
	assert.Equal(t, types.ErrorCodeNotFound, missing.ErrorCode())
	assert.Equal(t, "Widget not found with ID: 999", missing.Content[0].Text)

	assert.Equal(t, 3, bytes.Count(audits.Bytes(), []byte("\n")))
	assert.Contains(t, audits.String(), `"tool_error":"not_found"`)
}

func TestNotifications(t *testing.T) {
	d, _ := newDispatcher(t)
	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"create_widget","params":{"name":"a","price":1}}`)))
	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"nope"}`)))

	r := handle(t, d, `{"jsonrpc":"2.0","method":"list_widgets","id":1}`)
	assert.Contains(t, toolResult(t, r).Content[0].Text, `"name": "a"`)
}

func TestHandlerFailureAndPanic(t *testing.T) {
	set := registry.NewToolSet()
	require.NoError(t, set.AddTool(types.Tool{
		Descriptor: types.ToolDescriptor{Name: "fails", InputSchema: types.InputSchema{Type: "object"}},
		Func: func(context.Context, map[string]any) (types.ToolResult, error) {
			return types.ToolResult{}, errors.New("backend unavailable")
		},
	}))
	require.NoError(t, set.AddTool(types.Tool{
		Descriptor: types.ToolDescriptor{Name: "panics", InputSchema: types.InputSchema{Type: "object"}},
		Func: func(context.Context, map[string]any) (types.ToolResult, error) {
			panic("boom")
		},
	}))
	d := NewDispatcher(Options{Tools: staticTools{set}})

	r := handle(t, d, `{"jsonrpc":"2.0","method":"fails","id":1}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInternalError, r.Error.Code)
	assert.Equal(t, "Internal error: backend unavailable", r.Error.Message)
	assert.Equal(t, "1", string(r.ID))

	r = handle(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"panics"},"id":"p"}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInternalError, r.Error.Code)
	assert.Contains(t, r.Error.Message, "boom")
	assert.Equal(t, `"p"`, string(r.ID))
}

type staticTools struct{ set *registry.ToolSet }

func (s staticTools) Tools() *registry.ToolSet { return s.set }

func TestReadID(t *testing.T) {
	assert.Equal(t, "5", string(ReadID([]byte(`{"id":5,"method":"x"}`))))
	assert.Equal(t, "null", string(ReadID([]byte(`{"method":"x"}`))))
	assert.Equal(t, "null", string(ReadID([]byte(`not json`))))
	assert.Equal(t, "null", string(ReadID([]byte(`{"id":[1]}`))))
}

func TestErrorResponse(t *testing.T) {
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32603,"message":"HTTP error: 503"},"id":null}`,
		string(ErrorResponse(nil, CodeInternalError, "HTTP error: 503")))
}
