// Package dashboard is the minimal read-only status surface: a JSON API a
// host-side UI can sit behind, never a UI itself, bearer-token gated and
// rate-limited per remote address.
package dashboard

import (
	"fmt"

	"github.com/pcraw4d/scout/internal/config"
	"github.com/pcraw4d/scout/internal/store"
)

// minSecretLen mirrors internal/config's startup gate; kept here too so
// Gate can be called independently of config.Config.ValidateSecurity by a
// host embedding only the dashboard package.
const minSecretLen = 32

// Gate enforces the dashboard security gate: refuse to boot if the
// dashboard is enabled without a secret at least minSecretLen long. It
// never panics and never returns a half-open state.
func Gate(cfg config.DashboardConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Secret) < minSecretLen {
		return fmt.Errorf("%w: dashboard secret must be at least %d characters, got %d", store.ErrConfig, minSecretLen, len(cfg.Secret))
	}
	return nil
}
