package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadPoolBounds(t *testing.T) {
	cfg := Default()
	cfg.Database.MaxConns = 0
	cfg.Database.MinConns = 1
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTLSMode(t *testing.T) {
	cfg := Default()
	cfg.Database.TLSMode = "garbage"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositivePushRate(t *testing.T) {
	cfg := Default()
	cfg.Push.Rate = 0
	require.Error(t, cfg.Validate())
}

func TestEffectiveBurstDefaultsToOneAndHalfRate(t *testing.T) {
	p := PushServer{Rate: 100}
	require.Equal(t, 150.0, p.EffectiveBurst())
}

func TestEffectiveBurstUsesConfiguredValueWhenSet(t *testing.T) {
	p := PushServer{Rate: 100, Burst: 42}
	require.Equal(t, 42.0, p.EffectiveBurst())
}
