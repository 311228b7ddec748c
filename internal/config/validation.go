package config

import (
	"fmt"
	"net/url"
	"strings"
)

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "off": true,
}

// ValidateConfig performs validation on the complete configuration
func ValidateConfig(config *Config) error {
	if err := config.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger validation failed: %w", err)
	}
	if err := config.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle validation failed: %w", err)
	}
	if err := config.Server.Validate(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := config.Log.Validate(); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if err := config.Journal.Validate(); err != nil {
		return fmt.Errorf("journal validation failed: %w", err)
	}
	if err := config.Devnet.Validate(); err != nil {
		return fmt.Errorf("devnet validation failed: %w", err)
	}
	return nil
}

// Validate validates the [ledger] section
func (l *LedgerConfig) Validate() error {
	u, err := url.Parse(l.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", l.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url must use ws or wss, got %q", l.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host: %q", l.URL)
	}
	if l.DialTimeout < 0 || l.RequestTimeout < 0 || l.PingInterval < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if l.WriteQueue < 0 {
		return fmt.Errorf("write_queue cannot be negative, got %d", l.WriteQueue)
	}
	return nil
}

// Validate validates the [oracle] section
func (o *OracleConfig) Validate() error {
	seen := make(map[string]bool, len(o.Accounts))
	for _, a := range o.Accounts {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("accounts contains an empty entry")
		}
		if seen[a] {
			return fmt.Errorf("account %s listed twice", a)
		}
		seen[a] = true
	}
	if o.AccountOffset < 0 {
		return fmt.Errorf("account_offset cannot be negative, got %d", o.AccountOffset)
	}
	if o.AccountLimit < 0 {
		return fmt.Errorf("account_limit cannot be negative, got %d", o.AccountLimit)
	}
	if _, err := o.Fee(); err != nil {
		return err
	}
	if o.GasLimit == 0 {
		return fmt.Errorf("gas_limit must be positive")
	}
	if o.RegistrationWorkers < 1 {
		return fmt.Errorf("registration_workers must be at least 1, got %d", o.RegistrationWorkers)
	}
	if o.SubmitTimeout <= 0 {
		return fmt.Errorf("submit_timeout must be positive")
	}
	if o.MaxFanout < 1 {
		return fmt.Errorf("max_fanout must be at least 1, got %d", o.MaxFanout)
	}
	if o.ResubscribeDelay <= 0 {
		return fmt.Errorf("resubscribe_delay must be positive")
	}
	if o.MaxResubscribeDelay < o.ResubscribeDelay {
		return fmt.Errorf("max_resubscribe_delay (%s) is below resubscribe_delay (%s)",
			o.MaxResubscribeDelay, o.ResubscribeDelay)
	}
	if o.RedeliveryWindow < 1 {
		return fmt.Errorf("redelivery_window must be at least 1, got %d", o.RedeliveryWindow)
	}
	return nil
}

// Validate validates the [server] section. Port 0 disables the endpoint.
func (s *ServerConfig) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", s.Port)
	}
	if s.ReadHeaderTimeout < 0 {
		return fmt.Errorf("read_header_timeout cannot be negative")
	}
	return nil
}

// Validate validates the [log] section
func (l *LogConfig) Validate() error {
	if !logLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("unknown level %q (valid: trace, debug, info, warn, error, off)", l.Level)
	}
	return nil
}

// Validate validates the [journal] section. Nothing is checked when the
// journal is disabled.
func (j *JournalConfig) Validate() error {
	if !j.Enabled {
		return nil
	}
	if len(j.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required when the journal is enabled")
	}
	if j.Topic == "" {
		return fmt.Errorf("topic is required when the journal is enabled")
	}
	if j.BatchTimeout < 0 {
		return fmt.Errorf("batch_timeout cannot be negative")
	}
	return nil
}

// Validate validates the [devnet] section
func (d *DevnetConfig) Validate() error {
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	}
	if d.Accounts < 1 {
		return fmt.Errorf("accounts must be at least 1, got %d", d.Accounts)
	}
	if d.MinResponses < 1 {
		return fmt.Errorf("min_responses must be at least 1, got %d", d.MinResponses)
	}
	if _, err := d.Fee(); err != nil {
		return err
	}
	return nil
}
