package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcraw4d/scout/internal/config"
	"github.com/pcraw4d/scout/internal/store"
)

func TestGate_DisabledNeverFails(t *testing.T) {
	assert.NoError(t, Gate(config.DashboardConfig{Enabled: false}))
	assert.NoError(t, Gate(config.DashboardConfig{Enabled: false, Secret: ""}))
}

func TestGate_EnabledRequiresLongSecret(t *testing.T) {
	err := Gate(config.DashboardConfig{Enabled: true, Secret: "short"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConfig)
}

func TestGate_EnabledWithLongSecretPasses(t *testing.T) {
	secret := "012345678901234567890123456789012"
	require.GreaterOrEqual(t, len(secret), 32)
	assert.NoError(t, Gate(config.DashboardConfig{Enabled: true, Secret: secret}))
}
