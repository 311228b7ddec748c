package config

import "github.com/spf13/viper"

// DefaultConfigFile is looked up in the working directory when no path is given
const DefaultConfigFile = "oracled.toml"

// DefaultRegistrationFee is one ether in wei
const DefaultRegistrationFee = "1000000000000000000"

// setDefaults sets every default value
func setDefaults(v *viper.Viper) {
	// Ledger connection
	v.SetDefault("ledger.url", "ws://127.0.0.1:8545/ws")
	v.SetDefault("ledger.dial_timeout", "10s")
	v.SetDefault("ledger.request_timeout", "30s")
	v.SetDefault("ledger.write_queue", 256)
	v.SetDefault("ledger.ping_interval", "30s")

	// Oracle actors. The first 55 dev accounts are left to the owner,
	// airlines and passengers.
	v.SetDefault("oracle.accounts", []string{})
	v.SetDefault("oracle.account_offset", 55)
	v.SetDefault("oracle.account_limit", 0)
	v.SetDefault("oracle.registration_fee", DefaultRegistrationFee)
	v.SetDefault("oracle.gas_limit", 10_000_000)
	v.SetDefault("oracle.registration_workers", 8)
	v.SetDefault("oracle.submit_timeout", "15s")
	v.SetDefault("oracle.max_fanout", 16)
	v.SetDefault("oracle.resubscribe_delay", "2s")
	v.SetDefault("oracle.max_resubscribe_delay", "30s")
	v.SetDefault("oracle.redelivery_window", 1024)
	v.SetDefault("oracle.status_seed", 0)

	// Introspection endpoint
	v.SetDefault("server.bind", "")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_header_timeout", "5s")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	// Submission journal
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("journal.topic", "oracle-submissions")
	v.SetDefault("journal.batch_timeout", "10ms")

	// Simulated ledger
	v.SetDefault("devnet.bind", "127.0.0.1")
	v.SetDefault("devnet.port", 8545)
	v.SetDefault("devnet.accounts", 100)
	v.SetDefault("devnet.seed", "goOracled devnet")
	v.SetDefault("devnet.min_responses", 3)
	v.SetDefault("devnet.registration_fee", DefaultRegistrationFee)
}
