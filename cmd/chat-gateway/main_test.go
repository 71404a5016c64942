package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "chat-gateway dev\n", out.String())
}

func TestRunFailsOnMissingConfig(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRunFailsOnMissingEnvFile(t *testing.T) {
	err := run(context.Background(), "", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
