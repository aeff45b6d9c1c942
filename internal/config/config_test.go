package config

import "testing"

func TestValidateSecurity_RejectsShortSecretWhenDashboardEnabled(t *testing.T) {
	c := Config{Dashboard: DashboardConfig{Enabled: true, Secret: "too-short"}}
	if err := c.ValidateSecurity(); err == nil {
		t.Fatal("expected an error for a dashboard secret under 32 characters")
	}
}

func TestValidateSecurity_AllowsLongSecret(t *testing.T) {
	c := Config{Dashboard: DashboardConfig{Enabled: true, Secret: "0123456789012345678901234567890123456789"}}
	if err := c.ValidateSecurity(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateSecurity_AllowsShortSecretWhenDashboardDisabled(t *testing.T) {
	c := Config{Dashboard: DashboardConfig{Enabled: false, Secret: ""}}
	if err := c.ValidateSecurity(); err != nil {
		t.Fatalf("expected no error when dashboard is disabled, got %v", err)
	}
}

func TestFromEnv_DefaultsWhenUnset(t *testing.T) {
	c := FromEnv()
	if c.Database.Backend != "sqlite" {
		t.Fatalf("expected default backend sqlite, got %q", c.Database.Backend)
	}
	if c.Dashboard.Enabled {
		t.Fatal("expected dashboard disabled by default")
	}
}

func TestFromEnv_ReadsOverrides(t *testing.T) {
	t.Setenv("DB_BACKEND", "postgres")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("SCOUT_DASHBOARD_ENABLED", "true")
	t.Setenv("SCOUT_DASHBOARD_SECRET", "0123456789012345678901234567890123456789")

	c := FromEnv()
	if c.Database.Backend != "postgres" {
		t.Fatalf("expected backend postgres, got %q", c.Database.Backend)
	}
	if c.Database.Port != 6543 {
		t.Fatalf("expected port 6543, got %d", c.Database.Port)
	}
	if !c.Dashboard.Enabled {
		t.Fatal("expected dashboard enabled")
	}
	if err := c.ValidateSecurity(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestFromEnv_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	c := FromEnv()
	if c.Database.Port != 5432 {
		t.Fatalf("expected fallback default port 5432, got %d", c.Database.Port)
	}
}
