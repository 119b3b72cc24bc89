// Package bridge relays line-delimited JSON-RPC from stdio to the MCP HTTP
// endpoint.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/xscopehub/modelmcp/internal/auth"
	"github.com/xscopehub/modelmcp/internal/config"
	"github.com/xscopehub/modelmcp/internal/jsonrpc"
)

// Bridge forwards one request at a time and writes one reply line each.
type Bridge struct {
	endpoint string
	auth     config.AuthConfig
	client   *http.Client
	logger   *slog.Logger
}

// New creates a bridge from the bridge and auth sections of the config.
func New(cfg config.BridgeConfig, authCfg config.AuthConfig, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
	}
	return &Bridge{
		endpoint: cfg.Endpoint(),
		auth:     authCfg,
		client:   &http.Client{Transport: transport, Timeout: connect + read},
		logger:   logger,
	}
}

// Endpoint returns the URL requests are forwarded to.
func (b *Bridge) Endpoint() string { return b.endpoint }

// Run processes lines from in until EOF or until ctx is cancelled between
// lines. A forward in progress when ctx is cancelled runs to completion. Read
// failures other than EOF are returned.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	writer := bufio.NewWriter(out)
	lines := make(chan readResult, 1)

	b.logger.Debug("bridge started", "endpoint", b.endpoint)
	for {
		go func() {
			line, err := reader.ReadBytes('\n')
			lines <- readResult{line: line, err: err}
		}()

		var res readResult
		select {
		case <-ctx.Done():
			b.logger.Debug("bridge stopping", "reason", ctx.Err())
			return nil
		case res = <-lines:
		}

		if line := bytes.TrimSpace(res.line); len(line) > 0 {
			if reply := b.process(context.WithoutCancel(ctx), line); reply != nil {
				if err := writeLine(writer, reply); err != nil {
					return fmt.Errorf("write reply: %w", err)
				}
			}
		}

		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				b.logger.Debug("bridge input closed")
				return nil
			}
			return fmt.Errorf("read input: %w", res.err)
		}
	}
}

type readResult struct {
	line []byte
	err  error
}

func writeLine(w *bufio.Writer, reply []byte) error {
	compact, err := jsonrpc.Compact(reply)
	if err != nil {
		compact = reply
	}
	if _, err := w.Write(compact); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// process forwards a single line and returns the reply to write, or nil when
// nothing should be written.
func (b *Bridge) process(ctx context.Context, line []byte) []byte {
	if !json.Valid(line) {
		b.logger.Debug("invalid JSON on input", "line", string(line))
		return jsonrpc.ErrorResponse(nil, jsonrpc.CodeParseError, "Parse error: invalid JSON")
	}
	id := jsonrpc.ReadID(line)
	b.logger.Debug("forwarding request", "id", string(id), "bytes", len(line))

	body, status, err := b.forward(ctx, line)
	if err != nil {
		b.logger.Debug("forward failed", "error", err)
		return jsonrpc.ErrorResponse(id, jsonrpc.CodeInternalError, b.describe(err))
	}
	if status < 200 || status > 299 {
		b.logger.Debug("endpoint returned error status", "status", status)
		return jsonrpc.ErrorResponse(id, jsonrpc.CodeInternalError, fmt.Sprintf("HTTP error: %d", status))
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if !json.Valid(body) {
		return jsonrpc.ErrorResponse(id, jsonrpc.CodeInternalError, "Invalid response from server")
	}
	return body
}

func (b *Bridge) forward(ctx context.Context, line []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(line))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	auth.ApplyOutbound(req.Header, b.auth)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (b *Bridge) describe(err error) string {
	if IsConnectionRefused(err) {
		return "Connection refused: server not accessible at " + b.endpoint
	}
	return "Connection error: " + err.Error()
}

// IsConnectionRefused reports whether err means nothing is listening at the
// endpoint.
func IsConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
