package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credentials/pkg/domain-errors"
)

func validConfig() Config {
	return Config{
		Badges: Badges{EventTypes: DefaultBadgeEventTypes},
		Verifiable: Verifiable{
			DefaultIssuerID:  "did:key:z6MkDefault",
			DefaultIssuerKey: "secret",
			DefaultStorages:  []string{"lc_wallet"},
			StatusListLength: DefaultStatusListLength,
		},
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CREDENTIALS_ADDR", ":9090")
	t.Setenv("BADGES_EVENT_TYPES", "a.v1, b.v1,a.v1")
	t.Setenv("VC_DEFAULT_STORAGES", "web_wallet")
	t.Setenv("VC_STATUS_LIST_LENGTH", "64")
	t.Setenv("VC_SIGNER_TIMEOUT", "3s")
	t.Setenv("VC_FORCED_DATA_MODEL", "obv3")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"a.v1", "b.v1"}, cfg.Badges.EventTypes)
	assert.Equal(t, []string{"web_wallet"}, cfg.Verifiable.DefaultStorages)
	assert.Equal(t, 64, cfg.Verifiable.StatusListLength)
	assert.Equal(t, 3*time.Second, cfg.Verifiable.SignerTimeout)
	assert.Equal(t, DataModelOBv3, cfg.Verifiable.ForcedDataModel)
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("VC_STATUS_LIST_LENGTH", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, DefaultStatusListLength, cfg.Verifiable.StatusListLength)
	assert.Equal(t, 10*time.Second, cfg.Credly.Timeout)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing default issuer", func(c *Config) { c.Verifiable.DefaultIssuerID = " " }, "VC_DEFAULT_ISSUER_ID"},
		{"missing issuer key", func(c *Config) { c.Verifiable.DefaultIssuerKey = "" }, "VC_DEFAULT_ISSUER_KEY"},
		{"empty event allowlist", func(c *Config) { c.Badges.EventTypes = nil }, "BADGES_EVENT_TYPES"},
		{"unknown forced data model", func(c *Config) { c.Verifiable.ForcedDataModel = "jwt" }, "VC_FORCED_DATA_MODEL"},
		{"unknown storage", func(c *Config) { c.Verifiable.DefaultStorages = []string{"dropbox"} }, "VC_DEFAULT_STORAGES"},
		{"bad status list length", func(c *Config) { c.Verifiable.StatusListLength = 10 }, "VC_STATUS_LIST_LENGTH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
			assert.Contains(t, dErrors.FieldsOf(err), tt.field)
		})
	}
}
