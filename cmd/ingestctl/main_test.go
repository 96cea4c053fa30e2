package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCmd_RejectsInvalidID(t *testing.T) {
	rootCmd.SetArgs([]string{"job", "not-a-uuid"})
	rootCmd.SetOut(&bytes.Buffer{})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job id")
}

func TestAuditCmd_NeedsTwoArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"audit", "ingest_jobs"})
	rootCmd.SetOut(&bytes.Buffer{})
	assert.Error(t, rootCmd.Execute())
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	rootCmd.SetArgs([]string{"token", "alice"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestSetup_RefusesMemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	_, _, _, err := setup(t.Context(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=postgres")
}
