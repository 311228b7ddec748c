package cli

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/LeJamon/goOracled/internal/config"
	"github.com/LeJamon/goOracled/internal/logging"
)

var (
	// Global flags
	configFile string
	debug      bool
	verbose    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oracled",
	Short: "goOracled - flight status oracle node",
	Long: `goOracled registers a pool of oracle accounts with a flight insurance
contract and answers every flight status request the contract emits on behalf
of the oracles holding the request's index.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path (default: ./"+config.DefaultConfigFile+" if present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging, down to trace level")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
}

// loadConfig loads the configuration and applies the logging flags to it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	switch {
	case verbose:
		cfg.Log.Level = "trace"
	case debug:
		cfg.Log.Level = "debug"
	case quiet:
		cfg.Log.Level = "warn"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) hclog.Logger {
	return logging.New("oracled", cfg.Log)
}
