package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xscopehub/modelmcp/internal/audit"
	"github.com/xscopehub/modelmcp/internal/metrics"
	"github.com/xscopehub/modelmcp/internal/registry"
	"github.com/xscopehub/modelmcp/internal/types"
)

// ProtocolVersion is the MCP revision reported by initialize.
const ProtocolVersion = "2024-11-05"

// ServerInfo identifies the server in the initialize result.
type ServerInfo struct {
	Name         string
	Version      string
	Instructions string
}

// ToolSource exposes the currently published tool set.
type ToolSource interface {
	Tools() *registry.ToolSet
}

// Options configures a Dispatcher.
type Options struct {
	Tools   ToolSource
	Server  ServerInfo
	Logger  *slog.Logger
	Audit   *audit.Logger
	Metrics *metrics.Metrics
}

// Dispatcher turns raw JSON-RPC requests into raw responses. It keeps no
// state between calls and is safe for concurrent use.
type Dispatcher struct {
	tools   ToolSource
	server  ServerInfo
	logger  *slog.Logger
	audit   *audit.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewDispatcher creates a dispatcher reading tools from opts.Tools.
func NewDispatcher(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		tools:   opts.Tools,
		server:  opts.Server,
		logger:  logger,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("github.com/xscopehub/modelmcp/internal/jsonrpc"),
	}
}

type clientKey struct{}

// WithClient attaches the authenticated client identity used in audit entries.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

func clientFrom(ctx context.Context) string {
	s, _ := ctx.Value(clientKey{}).(string)
	return s
}

// call is the parsed, validated form of one request.
type call struct {
	method       string
	params       json.RawMessage
	id           json.RawMessage
	notification bool
	tool         string
}

// Handle processes one raw request. It returns nil for notifications, which
// are executed but never answered.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	start := time.Now()
	c, rpcErr := parse(raw)
	method := c.method
	if method == "" {
		method = "invalid"
	}

	ctx, span := d.tracer.Start(ctx, "jsonrpc "+method, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("rpc.system", "jsonrpc"), attribute.String("rpc.method", method))

	var result any
	if rpcErr == nil {
		result, rpcErr = d.dispatch(ctx, &c)
	}

	entry := audit.Entry{
		RequestID: uuid.NewString(),
		Client:    clientFrom(ctx),
		Method:    method,
		Tool:      c.tool,
		Duration:  time.Since(start),
	}
	outcome := "ok"
	if rpcErr != nil {
		outcome = strconv.Itoa(rpcErr.Code)
		entry.Code = rpcErr.Code
		entry.Error = rpcErr.Message
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
		d.logger.Debug("jsonrpc error", "method", method, "code", rpcErr.Code, "message", rpcErr.Message)
	} else if tr, ok := result.(types.ToolResult); ok && tr.IsError {
		outcome = "tool_error"
		entry.ToolError = tr.ErrorCode()
		span.SetAttributes(attribute.String("mcp.tool.error_code", tr.ErrorCode()))
	}
	if c.tool != "" {
		span.SetAttributes(attribute.String("mcp.tool.name", c.tool))
	}
	d.metrics.ObserveRequest(method, outcome, entry.Duration)
	d.audit.Log(entry)

	if c.notification && (rpcErr == nil || rpcErr.Code != CodeInvalidRequest) {
		return nil
	}
	if rpcErr != nil {
		return ErrorResponse(c.id, rpcErr.Code, rpcErr.Message)
	}
	data, err := resultResponse(c.id, result)
	if err != nil {
		d.logger.Error("encode response", "method", method, "error", err)
		return ErrorResponse(c.id, CodeInternalError, "Internal error: "+err.Error())
	}
	return data
}

func parse(raw []byte) (call, *Error) {
	c := call{id: NullID}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) || !json.Valid(raw) {
			return c, errorf(CodeParseError, "Parse error: %v", err)
		}
		return c, errorf(CodeInvalidRequest, "Invalid Request: expected a JSON object")
	}
	if fields == nil {
		return c, errorf(CodeInvalidRequest, "Invalid Request: expected a JSON object")
	}

	id, hasID := fields["id"]
	if hasID {
		if !validID(id) {
			return c, errorf(CodeInvalidRequest, "Invalid Request: id must be a string, number or null")
		}
		c.id = id
	}
	c.notification = !hasID

	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != Version {
		return c, errorf(CodeInvalidRequest, "Invalid Request: jsonrpc must be \"2.0\"")
	}
	if err := json.Unmarshal(fields["method"], &c.method); err != nil || c.method == "" {
		c.method = ""
		return c, errorf(CodeInvalidRequest, "Invalid Request: method must be a non-empty string")
	}
	c.params = fields["params"]
	return c, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, c *call) (any, *Error) {
	switch {
	case c.method == "initialize":
		return d.initialize(), nil
	case c.method == "ping":
		return struct{}{}, nil
	case c.method == "tools/list":
		return map[string]any{"tools": d.tools.Tools().List()}, nil
	case c.method == "tools/call":
		obj, perr := decodeObject(c.params)
		if perr != nil {
			return nil, perr
		}
		name, _ := obj["name"].(string)
		if name == "" {
			return nil, errorf(CodeInvalidParams, "Invalid params: tool name required")
		}
		args := map[string]any{}
		if raw, ok := obj["arguments"]; ok && raw != nil {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, errorf(CodeInvalidParams, "Invalid params: arguments must be an object")
			}
			args = m
		}
		c.tool = name
		tool, ok := d.tools.Tools().Tool(name)
		if !ok {
			return nil, errorf(CodeMethodNotFound, "Method not found: unknown tool %s", name)
		}
		return d.invoke(ctx, tool, args)
	case strings.HasPrefix(c.method, "notifications/"):
		return struct{}{}, nil
	}

	tool, ok := d.tools.Tools().Tool(c.method)
	if !ok {
		return nil, errorf(CodeMethodNotFound, "Method not found: %s", c.method)
	}
	c.tool = c.method
	args, perr := decodeObject(c.params)
	if perr != nil {
		return nil, perr
	}
	return d.invoke(ctx, tool, args)
}

func (d *Dispatcher) initialize() map[string]any {
	result := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    d.server.Name,
			"version": d.server.Version,
		},
	}
	if d.server.Instructions != "" {
		result["instructions"] = d.server.Instructions
	}
	return result
}

// decodeObject decodes params as a JSON object, keeping numbers as json.Number.
// Absent or null params decode to an empty map.
func decodeObject(raw json.RawMessage) (map[string]any, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil || out == nil {
		return nil, errorf(CodeInvalidParams, "Invalid params: params must be an object")
	}
	return out, nil
}

func missingRequired(schema types.InputSchema, args map[string]any) []string {
	var missing []string
	for _, name := range schema.Required {
		if v, ok := args[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func (d *Dispatcher) invoke(ctx context.Context, tool types.Tool, args map[string]any) (result any, rpcErr *Error) {
	if missing := missingRequired(tool.Descriptor.InputSchema, args); len(missing) > 0 {
		return nil, errorf(CodeInvalidParams, "Invalid params: missing required parameter: %s", strings.Join(missing, ", "))
	}
	if tool.Func == nil {
		return nil, errorf(CodeInternalError, "Internal error: tool %s has no implementation", tool.Descriptor.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool panicked", "tool", tool.Descriptor.Name, "panic", p)
			result, rpcErr = nil, errorf(CodeInternalError, "Internal error: %v", p)
		}
	}()
	res, err := tool.Func(ctx, args)
	if err != nil {
		d.logger.Error("tool failed", "tool", tool.Descriptor.Name, "error", err)
		return nil, errorf(CodeInternalError, "Internal error: %s", err.Error())
	}
	return res, nil
}
