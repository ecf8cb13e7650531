package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/core"
)

func newChatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively from the terminal",
		Long: `Reads one message per line from stdin and prints the conversation as it
changes. The stored history is printed first. End input (Ctrl-D) or interrupt
to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, c *cli, in io.Reader, out io.Writer) error {
	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return err
	}
	sess := a.Session()

	sess.Subscribe(func(ev core.Event) {
		switch ev.Kind {
		case core.EventHistoryChanged:
			if ev.Message != nil {
				printMessage(out, *ev.Message)
			} else {
				for _, msg := range ev.History {
					printMessage(out, msg)
				}
			}
		case core.EventStatusChanged:
			fmt.Fprintf(os.Stderr, "-- %s (pending: %d)\n", ev.Status, ev.Pending)
		case core.EventError:
			if ev.Error != nil {
				fmt.Fprintf(os.Stderr, "-- error: %s\n", ev.Error.Message)
			}
		}
	})

	if err := a.Start(ctx); err != nil {
		return errors.Join(err, a.Shutdown())
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := sess.SendMessage(ctx, line); err != nil {
				c.logger.Warn().Err(err).Msg("send failed")
			}
		}
	}
	return a.Shutdown()
}

func printMessage(out io.Writer, msg core.Message) {
	fmt.Fprintf(out, "[%s] %s: %s\n", msg.Timestamp.Local().Format(time.TimeOnly), authorOf(msg), msg.Text)
}

func authorOf(msg core.Message) string {
	if msg.Author != "" {
		return msg.Author
	}
	if msg.Local() {
		return core.AuthorLocal
	}
	return core.AuthorRemote
}
