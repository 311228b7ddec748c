package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracled.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[ledger]
url = "ws://ledger.internal:8546/ws"
request_timeout = "5s"

[oracle]
account_offset = 20
account_limit = 10
registration_fee = "2000000000000000000"
max_fanout = 4
submit_timeout = "3s"

[server]
port = 3100

[log]
level = "debug"
json = true

[journal]
enabled = true
brokers = ["kafka-1:9092", "kafka-2:9092"]
topic = "flight-oracles"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, path, config.GetConfigPath())
	assert.Equal(t, filepath.Dir(path), config.GetConfigDir())

	// Values from the file
	assert.Equal(t, "ws://ledger.internal:8546/ws", config.Ledger.URL)
	assert.Equal(t, 5*time.Second, config.Ledger.RequestTimeout)
	assert.Equal(t, 20, config.Oracle.AccountOffset)
	assert.Equal(t, 10, config.Oracle.AccountLimit)
	assert.Equal(t, 4, config.Oracle.MaxFanout)
	assert.Equal(t, 3*time.Second, config.Oracle.SubmitTimeout)
	assert.Equal(t, ":3100", config.Server.Addr())
	assert.Equal(t, "debug", config.Log.Level)
	assert.True(t, config.Log.JSON)
	assert.True(t, config.Journal.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, config.Journal.Brokers)
	assert.Equal(t, "flight-oracles", config.Journal.Topic)

	fee, err := config.Oracle.Fee()
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", fee.String())

	// Defaults for everything else
	assert.Equal(t, 10*time.Second, config.Ledger.DialTimeout)
	assert.Equal(t, uint64(10_000_000), config.Oracle.GasLimit)
	assert.Equal(t, 8, config.Oracle.RegistrationWorkers)
	assert.Equal(t, 2*time.Second, config.Oracle.ResubscribeDelay)
	assert.Equal(t, 30*time.Second, config.Oracle.MaxResubscribeDelay)
	assert.Equal(t, 1024, config.Oracle.RedeliveryWindow)
	assert.Equal(t, 10*time.Millisecond, config.Journal.BatchTimeout)
}

func TestDefaults(t *testing.T) {
	config := Default()
	require.NoError(t, ValidateConfig(config))

	assert.Equal(t, "ws://127.0.0.1:8545/ws", config.Ledger.URL)
	assert.Empty(t, config.Oracle.Accounts)
	assert.Equal(t, 55, config.Oracle.AccountOffset)
	assert.Equal(t, DefaultRegistrationFee, config.Oracle.RegistrationFee)
	assert.Equal(t, 15*time.Second, config.Oracle.SubmitTimeout)
	assert.Equal(t, 16, config.Oracle.MaxFanout)
	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, "info", config.Log.Level)
	assert.False(t, config.Journal.Enabled)
	assert.Equal(t, "127.0.0.1:8545", config.Devnet.Addr())
	assert.Equal(t, 100, config.Devnet.Accounts)
	assert.Equal(t, 3, config.Devnet.MinResponses)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, config.GetConfigPath())
	assert.Equal(t, Default(), config)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
[ledger]
url = "ws://from-file:8545/ws"
`)
	t.Setenv("ORACLED_LEDGER_URL", "wss://from-env:443/ws")
	t.Setenv("ORACLED_ORACLE_MAX_FANOUT", "32")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://from-env:443/ws", config.Ledger.URL)
	assert.Equal(t, 32, config.Oracle.MaxFanout)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
[oracle]
registration_fee = "one ether"
`)
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "registration_fee")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "http ledger url", mutate: func(c *Config) { c.Ledger.URL = "http://127.0.0.1:8545" }, wantErr: "ws or wss"},
		{name: "ledger url without host", mutate: func(c *Config) { c.Ledger.URL = "ws:///ws" }, wantErr: "no host"},
		{name: "duplicate account", mutate: func(c *Config) { c.Oracle.Accounts = []string{"0xa", "0xa"} }, wantErr: "listed twice"},
		{name: "empty account", mutate: func(c *Config) { c.Oracle.Accounts = []string{" "} }, wantErr: "empty entry"},
		{name: "negative offset", mutate: func(c *Config) { c.Oracle.AccountOffset = -1 }, wantErr: "account_offset"},
		{name: "negative fee", mutate: func(c *Config) { c.Oracle.RegistrationFee = "-1" }, wantErr: "negative"},
		{name: "zero gas", mutate: func(c *Config) { c.Oracle.GasLimit = 0 }, wantErr: "gas_limit"},
		{name: "zero workers", mutate: func(c *Config) { c.Oracle.RegistrationWorkers = 0 }, wantErr: "registration_workers"},
		{name: "zero fanout", mutate: func(c *Config) { c.Oracle.MaxFanout = 0 }, wantErr: "max_fanout"},
		{name: "zero submit timeout", mutate: func(c *Config) { c.Oracle.SubmitTimeout = 0 }, wantErr: "submit_timeout"},
		{
			name: "backoff ceiling below floor",
			mutate: func(c *Config) {
				c.Oracle.ResubscribeDelay = time.Minute
				c.Oracle.MaxResubscribeDelay = time.Second
			},
			wantErr: "max_resubscribe_delay",
		},
		{name: "server port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "port"},
		{name: "server disabled", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "unknown log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "unknown level"},
		{
			name: "journal without brokers",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Brokers = nil
			},
			wantErr: "broker",
		},
		{name: "disabled journal is not checked", mutate: func(c *Config) { c.Journal.Brokers = nil }},
		{name: "devnet without accounts", mutate: func(c *Config) { c.Devnet.Accounts = 0 }, wantErr: "accounts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := ValidateConfig(c)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
