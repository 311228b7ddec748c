package config

import (
	"fmt"
	"math/big"
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents the complete oracled configuration
type Config struct {
	Ledger  LedgerConfig  `toml:"ledger" mapstructure:"ledger"`
	Oracle  OracleConfig  `toml:"oracle" mapstructure:"oracle"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Journal JournalConfig `toml:"journal" mapstructure:"journal"`
	Devnet  DevnetConfig  `toml:"devnet" mapstructure:"devnet"`

	// Internal fields for configuration management
	configPath string `toml:"-" mapstructure:"-"`
}

// LedgerConfig represents the [ledger] section: how to reach the ledger node
type LedgerConfig struct {
	URL            string        `toml:"url" mapstructure:"url"`
	DialTimeout    time.Duration `toml:"dial_timeout" mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout" mapstructure:"request_timeout"`
	WriteQueue     int           `toml:"write_queue" mapstructure:"write_queue"` // outgoing messages buffered per connection
	PingInterval   time.Duration `toml:"ping_interval" mapstructure:"ping_interval"`
}

// OracleConfig represents the [oracle] section
type OracleConfig struct {
	// Explicit candidate accounts. When empty the ledger's accounts are used,
	// skipping AccountOffset of them and keeping at most AccountLimit (0 = all).
	Accounts      []string `toml:"accounts" mapstructure:"accounts"`
	AccountOffset int      `toml:"account_offset" mapstructure:"account_offset"`
	AccountLimit  int      `toml:"account_limit" mapstructure:"account_limit"`

	RegistrationFee     string `toml:"registration_fee" mapstructure:"registration_fee"` // wei, base 10
	GasLimit            uint64 `toml:"gas_limit" mapstructure:"gas_limit"`
	RegistrationWorkers int    `toml:"registration_workers" mapstructure:"registration_workers"`

	SubmitTimeout       time.Duration `toml:"submit_timeout" mapstructure:"submit_timeout"`
	MaxFanout           int           `toml:"max_fanout" mapstructure:"max_fanout"`
	ResubscribeDelay    time.Duration `toml:"resubscribe_delay" mapstructure:"resubscribe_delay"`
	MaxResubscribeDelay time.Duration `toml:"max_resubscribe_delay" mapstructure:"max_resubscribe_delay"`
	RedeliveryWindow    int           `toml:"redelivery_window" mapstructure:"redelivery_window"`

	StatusSeed uint64 `toml:"status_seed" mapstructure:"status_seed"` // 0 seeds from the clock
}

// Fee returns RegistrationFee as a number.
func (o *OracleConfig) Fee() (*big.Int, error) {
	return parseWei("registration_fee", o.RegistrationFee)
}

// ServerConfig represents the [server] section: the introspection endpoint
type ServerConfig struct {
	Bind              string        `toml:"bind" mapstructure:"bind"`
	Port              int           `toml:"port" mapstructure:"port"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" mapstructure:"read_header_timeout"`
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Bind, strconv.Itoa(s.Port))
}

// LogConfig represents the [log] section
type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	JSON  bool   `toml:"json" mapstructure:"json"`
}

// JournalConfig represents the [journal] section
type JournalConfig struct {
	Enabled      bool          `toml:"enabled" mapstructure:"enabled"`
	Brokers      []string      `toml:"brokers" mapstructure:"brokers"`
	Topic        string        `toml:"topic" mapstructure:"topic"`
	BatchTimeout time.Duration `toml:"batch_timeout" mapstructure:"batch_timeout"`
}

// DevnetConfig represents the [devnet] section used by `oracled devnet`
type DevnetConfig struct {
	Bind            string `toml:"bind" mapstructure:"bind"`
	Port            int    `toml:"port" mapstructure:"port"`
	Accounts        int    `toml:"accounts" mapstructure:"accounts"`
	Seed            string `toml:"seed" mapstructure:"seed"`
	MinResponses    int    `toml:"min_responses" mapstructure:"min_responses"`
	RegistrationFee string `toml:"registration_fee" mapstructure:"registration_fee"`
}

// Addr returns the listen address.
func (d *DevnetConfig) Addr() string {
	return net.JoinHostPort(d.Bind, strconv.Itoa(d.Port))
}

// Fee returns RegistrationFee as a number.
func (d *DevnetConfig) Fee() (*big.Int, error) {
	return parseWei("devnet.registration_fee", d.RegistrationFee)
}

// GetConfigPath returns the path of the loaded configuration file, or "" when
// running on defaults
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// GetConfigDir returns the directory containing the configuration file
func (c *Config) GetConfigDir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

func parseWei(key, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base 10 integer, got %q", key, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s cannot be negative", key)
	}
	return v, nil
}
