package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("BIND_HOST")
	os.Unsetenv("PIPELINE_CONFIG")
	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", c.BindHost)
	require.Equal(t, "app_change_preferred", c.SpanBoundaryMode)
	require.Equal(t, 8, c.MaxCitationsDefault)
}

func TestLoad_RejectsNonLocalhostBind(t *testing.T) {
	os.Setenv("BIND_HOST", "0.0.0.0")
	defer os.Unsetenv("BIND_HOST")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate_RejectsBadHysteresis(t *testing.T) {
	c := &Config{BindHost: "127.0.0.1", BurnDownExitFraction: 1.5, MaxCitationsDefault: 8, MaxCitationsMax: 32}
	require.Error(t, c.Validate())
}
