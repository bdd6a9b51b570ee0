// ABOUTME: run command: starts the App and the interactive session side by side
// ABOUTME: Ends on /quit, end of input or SIGINT/SIGTERM

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chorus/internal/app"
	"github.com/2389/coven-chorus/internal/notify"
)

const banner = `
      _
  ___| |__   ___  _ __ _   _ ___
 / __| '_ \ / _ \| '__| | | / __|
| (__| | | | (_) | |  | |_| \__ \
 \___|_| |_|\___/|_|   \__,_|___/
`

func newRunCmd(g *globals) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive multi-agent session",
		Long: `Start an interactive multi-agent session.

Type a message to add it to the current conversation and ask for the next
turn. Lines starting with / are commands; /help lists them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runSession(ctx, g, cmd.InOrStdin(), cmd.OutOrStdout(), conversationID)
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation to open on start")
	return cmd
}

func runSession(ctx context.Context, g *globals, in io.Reader, out io.Writer, conversationID string) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, closeLog, err := g.logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprint(out, banner)
	gray.Fprintf(out, "    version: %s\n\n", Version)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Backend:  %s\n", cfg.Backend.URL)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Database: %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Metrics:  http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Fprintln(out)

	r := newREPL(out)
	a, err := app.New(cfg, app.Deps{
		Logger:   logger,
		Notifier: notify.Func(r.notify),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	r.attach(a)

	if conversationID != "" {
		if err := r.use(conversationID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	// Leaving the REPL ends the session.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.Run(gctx) })
	eg.Go(func() error {
		r.watch(gctx)
		return nil
	})
	eg.Go(func() error {
		defer stop()
		return r.loop(gctx, in)
	})

	err = eg.Wait()
	fmt.Fprintln(out, "\nGoodbye!")
	return err
}
