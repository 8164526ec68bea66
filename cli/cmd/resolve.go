package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tcplite/cli/config"
	"github.com/justapithecus/tcplite/log"
)

// Values resolve in three tiers: an explicitly set flag, then the config
// file, then the flag's own default.

func resolveString(c *cli.Context, flag, configured string) string {
	if c.IsSet(flag) || configured == "" {
		return c.String(flag)
	}
	return configured
}

func resolveInt(c *cli.Context, flag string, configured int) int {
	if c.IsSet(flag) || configured == 0 {
		return c.Int(flag)
	}
	return configured
}

func resolveBool(c *cli.Context, flag string, configured bool) bool {
	if c.IsSet(flag) {
		return c.Bool(flag)
	}
	return configured || c.Bool(flag)
}

func resolveDuration(c *cli.Context, flag string, configured time.Duration) time.Duration {
	if c.IsSet(flag) || configured == 0 {
		return c.Duration(flag)
	}
	return configured
}

func resolveFloat(c *cli.Context, flag string, configured float64) float64 {
	if c.IsSet(flag) || configured == 0 {
		return c.Float64(flag)
	}
	return configured
}

// configVal reads a field from an optional config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	var zero T
	if cfg == nil {
		return zero
	}
	return get(cfg)
}

// loadConfig loads --config if given. A missing or invalid file is a usage error.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(ConfigFlag.Name)
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsageError)
	}
	return cfg, nil
}

// newLogger builds the command logger from --log-level, the environment and
// the config file.
func newLogger(c *cli.Context, cfg *config.Config, component string) (*log.Logger, error) {
	level, err := log.ResolveLevel(c.String(LogLevelFlag.Name), configVal(cfg, func(c *config.Config) string { return c.Log.Level }))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid log level: %v", err), exitUsageError)
	}
	return log.NewLogger(log.Context{Component: component}, log.WithLevel(level)), nil
}

func usageError(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), exitUsageError)
}
