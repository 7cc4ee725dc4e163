package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	for _, name := range []string{"serve", "turn", "seed", "migrate"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("env-file"))
	assert.Equal(t, "cli", turnCmd.Flags().Lookup("user").DefValue)
	assert.Equal(t, "candidates.yaml", seedCmd.Flags().Lookup("file").DefValue)
}

func TestTurnRequiresMessage(t *testing.T) {
	assert.Error(t, turnCmd.Args(turnCmd, nil))
	assert.NoError(t, turnCmd.Args(turnCmd, []string{"hello"}))
}
