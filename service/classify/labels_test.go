package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLabels(t *testing.T) {
	labels := DefaultLabels()
	assert.Equal(t, "SYSTEM PROGRAM", labels.Lookup(SystemProgram))
	assert.Equal(t, "Token Program", labels.Lookup(TokenProgram))
	assert.Equal(t, "", labels.Lookup(alice))

	info, ok := labels.Info("pythWSnswVUd12oZpeFP8e9CVaEqJg25g1Vtc2biRsT")
	require.True(t, ok)
	assert.Equal(t, "ORACLE", info.Category)
}

func TestLabels_NilIsEmpty(t *testing.T) {
	var labels *Labels
	assert.Equal(t, "", labels.Lookup(SystemProgram))
	assert.Equal(t, 0, labels.Len())
	assert.Empty(t, labels.All())
}

func TestLabels_AllIsACopy(t *testing.T) {
	labels := DefaultLabels()
	all := labels.All()
	all[SystemProgram] = ProgramInfo{Name: "changed"}
	assert.Equal(t, "SYSTEM PROGRAM", labels.Lookup(SystemProgram))
}

func TestLoadLabels_MergesOverBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
labels:
  - address: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
    name: SERUM DEX
    category: DEFI
  - address: "11111111111111111111111111111111"
    name: System
    category: SYSTEM
`), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, "SERUM DEX", labels.Lookup("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"))
	assert.Equal(t, "System", labels.Lookup(SystemProgram))
	assert.Equal(t, "Token Program", labels.Lookup(TokenProgram))
	assert.Equal(t, DefaultLabels().Len()+1, labels.Len())
}

func TestParseLabels_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "invalid yaml", data: "labels: [unclosed"},
		{name: "missing address", data: "labels:\n  - name: X\n"},
		{name: "missing name", data: "labels:\n  - address: abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLabels([]byte(tt.data))
			assert.Error(t, err)
		})
	}

	_, err := LoadLabels(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
