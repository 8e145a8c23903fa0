package main

import (
	"testing"

	"pricesync/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
	}{
		{"short secret", config.Config{AuthSecret: "short", Env: "development", OperatingHoursStart: 8, OperatingHoursEnd: 22}},
		{"empty hours window", config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", Env: "development", OperatingHoursStart: 9, OperatingHoursEnd: 9}},
		{"short admin password", config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", Env: "development", OperatingHoursStart: 8, OperatingHoursEnd: 22, AdminPassword: "admin"}},
		{"seeded memory in production", config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", Env: "production", OperatingHoursStart: 8, OperatingHoursEnd: 22}},
	}
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	for _, tc := range cases {
		if err := validateSecurityConfig(tc.cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", tc.name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:          "0123456789abcdef0123456789abcdef",
		Env:                 "production",
		DatabaseURL:         "postgres://pricing@db/pricing",
		AdminPassword:       "correct-horse-battery",
		OperatingHoursStart: 8,
		OperatingHoursEnd:   22,
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
