package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

// cli carries the resolved configuration into subcommands.
type cli struct {
	configPath string
	overrides  config.Config

	cfg    config.Config
	logger *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "wirechat",
		Short: "Resilient chat client for a wirechat server",
		Long: `wirechat keeps a chat session with a websocket server alive across
disconnects. Messages typed while offline are queued and replayed in order
once the connection is back, and the history survives restarts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to config.yaml (default ./config.yaml)")
	flags.StringVar(&c.overrides.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")
	flags.StringVar(&c.overrides.LogFormat, "log-format", "", "log encoding: console or json")
	flags.StringVar(&c.overrides.Endpoint, "endpoint", "", "server websocket URL")
	flags.StringVar(&c.overrides.Store.Driver, "store", "", "history store driver: sqlite, pebble, memory")
	flags.StringVar(&c.overrides.Store.Path, "store-path", "", "history store location")

	root.AddCommand(newChatCmd(c), newHistoryCmd(c), newBridgeCmd(c))
	return root
}

// load resolves configuration. Precedence: defaults < file < env < flags.
func (c *cli) load() error {
	bootstrap := log.New("info", log.FormatConsole)
	cfg, path, err := config.Load(bootstrap, c.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(c.overrides)
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = log.New(cfg.LogLevel, cfg.LogFormat)
	c.logger.Debug().Str("config", path).Str("endpoint", cfg.Endpoint).Msg("configuration loaded")
	return nil
}
