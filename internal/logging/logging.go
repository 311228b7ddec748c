// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/LeJamon/goOracled/internal/config"
)

// New returns the root logger for cfg, writing to stderr.
func New(name string, cfg config.LogConfig) hclog.Logger {
	return NewWithOutput(name, cfg, os.Stderr)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(name string, cfg config.LogConfig, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           hclog.LevelFromString(strings.ToLower(cfg.Level)),
		Output:          out,
		JSONFormat:      cfg.JSON,
		IncludeLocation: strings.EqualFold(cfg.Level, "trace"),
	})
}
