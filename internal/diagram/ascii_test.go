package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderASCII_Linear(t *testing.T) {
	model := Build(linearBundle(), BuildOptions{})
	out := RenderASCII(model)

	assert.Contains(t, out, "=== ETL Pipeline ===")
	assert.Contains(t, out, "layer 1")
	assert.Contains(t, out, "layer 4")
	assert.Contains(t, out, "Start")
	assert.Contains(t, out, "[START]")
	assert.Contains(t, out, "▼") // layer connector arrow
}

func TestRenderASCII_HiddenTag(t *testing.T) {
	model := Build(linearBundle(), BuildOptions{
		Visible: map[string]bool{"entry": true},
	})
	out := RenderASCII(model)

	assert.Contains(t, out, "[HIDDEN]")
}

func TestRenderASCII_GroupSection(t *testing.T) {
	b := linearBundle()
	b.Steps = append(b.Steps, schemaGroupStep())

	model := Build(b, BuildOptions{
		Membership: map[string]string{"fetch": "grp"},
	})
	out := RenderASCII(model)

	assert.Contains(t, out, "--- Group (2) ---")
	lines := strings.Split(out, "\n")
	assert.NotEmpty(t, lines)
}
