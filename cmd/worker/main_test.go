package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/salpa/profits/internal/app"
	_ "github.com/salpa/profits/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
