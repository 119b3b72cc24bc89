package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/modelmcp/internal/config"
)

func TestToolsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`models:
  - name: widget
    attributes: [id, name]
    writable: [name]
  - name: audit_event
    read_only: true
    attributes: [id, action]
`), 0o600))

	var out bytes.Buffer
	cmd := newToolsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--models", path})
	require.NoError(t, cmd.Execute())

	var listing struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &listing))
	var names []string
	for _, tool := range listing.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"list_widgets", "get_widget", "create_widget", "update_widget", "delete_widget",
		"list_audit_events", "get_audit_event",
	}, names)
}

func TestToolsCommandDuplicateModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`models:
  - name: widget
    writable: [name]
  - name: widget
    writable: [name]
`), 0o600))

	cmd := newToolsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--models", path})
	assert.Error(t, cmd.Execute())
}

func TestOpenAuditDefaultsToStdout(t *testing.T) {
	out, closeFn, err := openAudit(config.AuditConfig{Enabled: true})
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, os.Stdout, out)

	path := filepath.Join(t.TempDir(), "audit.log")
	out, closeFn, err = openAudit(config.AuditConfig{Enabled: true, Path: path})
	require.NoError(t, err)
	_, err = out.Write([]byte("{}\n"))
	require.NoError(t, err)
	closeFn()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}
