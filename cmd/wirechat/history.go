package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/export"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print or export the stored history",
		Long: `Reads the persisted history without connecting to the server.

Without --format the history is printed one message per line. With --format
it is exported as json, jsonl, yaml or toml, to stdout or to --output. When
--output is a directory the file is named wirechat-history.<format>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := app.OpenStore(c.cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			hs := store.NewHistoryStore(kv, c.cfg.Store.Key)
			defer hs.Close()

			history, err := hs.Load(cmd.Context())
			if err != nil {
				return err
			}

			if format == "" {
				for _, msg := range history {
					printMessage(cmd.OutOrStdout(), msg)
				}
				return nil
			}

			exporter, err := export.NewExporter(format)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				if info, err := os.Stat(output); err == nil && info.IsDir() {
					output = filepath.Join(output, "wirechat-history."+exporter.Extension())
				}
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := exporter.Export(history, w); err != nil {
				return err
			}
			if output != "" {
				c.logger.Info().Str("path", output).Int("messages", len(history)).Msg("history exported")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "export format: json, jsonl, yaml, toml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the export to this file or directory instead of stdout")
	return cmd
}
