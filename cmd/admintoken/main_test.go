package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interntrack/attendance/internal/auth"
)

func TestMintPrintsAdminToken(t *testing.T) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out

	err := app.Run([]string{"admintoken", "--subject", "ops", "--issuer", "attendance", "--key", "k", "--ttl", "1h", "--with-expiry"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	claims, err := auth.Parse(lines[0], "k", "attendance")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestMintRejectsEmptyKey(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"admintoken", "--key", ""})
	assert.Error(t, err)
}
