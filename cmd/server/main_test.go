package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"caixa/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{name: "short secret", cfg: config.Config{AuthSecret: "short", ManagerPIN: "739154"}, wantErr: true},
		{name: "missing pin", cfg: config.Config{AuthSecret: strongSecret}, wantErr: true},
		{name: "short pin", cfg: config.Config{AuthSecret: strongSecret, ManagerPIN: "7391"}, wantErr: true},
		{name: "weak pin", cfg: config.Config{AuthSecret: strongSecret, ManagerPIN: "123456"}, wantErr: true},
		{
			name: "short bootstrap password",
			cfg: config.Config{AuthSecret: strongSecret, ManagerPIN: "739154", Bootstrap: config.BootstrapConfig{
				MerchantID: "mrc_1", AdminUsername: "admin", AdminPassword: "curta",
			}},
			wantErr: true,
		},
		{name: "strong", cfg: config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"000000", "999999", "123456", "654321", "345678", "121212", "12a456"} {
		assert.Error(t, validatePINStrength(pin), pin)
	}
	for _, pin := range []string{"739154", "480213", "902817"} {
		assert.NoError(t, validatePINStrength(pin), pin)
	}
}
