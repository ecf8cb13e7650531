package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
)

func newBridgeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the session headless behind the local HTTP bridge",
		Long: `Keeps the session connected and serves it on a loopback HTTP API for a
separate presentation layer: /api/status, /api/history, POST /api/messages and
the /api/events stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			cfg.Bridge.Enabled = true
			if addr != "" {
				cfg.Bridge.Addr = addr
			}

			a, err := app.New(cfg, c.logger)
			if err != nil {
				return err
			}
			c.logger.Info().Str("endpoint", cfg.Endpoint).Str("addr", cfg.Bridge.Addr).Msg("starting wirechat bridge")
			if err := a.Run(cmd.Context()); err != nil {
				return err
			}
			c.logger.Info().Msg("bridge stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "bridge listen address (default from config)")
	return cmd
}
