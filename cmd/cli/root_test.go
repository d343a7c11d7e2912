package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}

	for _, expected := range []string{"serve", "check", "templates", "keygen", "version"} {
		assert.Contains(t, names, expected)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestTemplatesValidate_BuiltIn(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"templates", "validate"})

	require.NoError(t, root.Execute())
}

func TestTemplatesValidate_MissingManifest(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"templates", "validate", t.TempDir() + "/missing.yaml"})

	assert.Error(t, root.Execute())
}
