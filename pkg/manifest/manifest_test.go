package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/modelmcp/internal/types"
)

const sample = `
models:
  - name: widget
    attributes: [id, name, price]
    writable: [name, price]
  - name: LineItem
    attributes:
      - {name: id, type: integer}
      - {name: quantity, type: integer}
      - {name: note, type: text, nullable: true}
  - name: report
    read_only: true
    writable: [title]
`

func TestParse(t *testing.T) {
	mf, err := Parse([]byte(sample))
	require.NoError(t, err)
	descs, err := mf.Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 3)

	assert.Equal(t, []string{"id", "name", "price"}, descs[0].AttributeNames())
	assert.Equal(t, "line_items", descs[1].PluralName())
	note, ok := descs[1].Attribute("note")
	require.True(t, ok)
	assert.Equal(t, types.TypeText, note.Type)
	assert.True(t, note.Nullable)

	assert.Equal(t, []string{"id", "title"}, descs[2].AttributeNames())
	assert.True(t, descs[2].ReadOnly)
}

func TestParseJSON(t *testing.T) {
	mf, err := Parse([]byte(`{"models":[{"name":"widget","attributes":["id","name"]}]}`))
	require.NoError(t, err)
	descs, err := mf.Descriptors()
	require.NoError(t, err)
	assert.Equal(t, "widget", descs[0].Name)
}

func TestDescriptorsRejectInvalid(t *testing.T) {
	mf, err := Parse([]byte("models:\n  - name: widget\n    attributes: [id]\n    writable: [price]\n"))
	require.NoError(t, err)
	_, err = mf.Descriptors()
	assert.Error(t, err)
}

func TestLoadDescriptors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	descs, err := LoadDescriptors(path)
	require.NoError(t, err)
	assert.Len(t, descs, 3)

	_, err = LoadDescriptors(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
