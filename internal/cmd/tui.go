package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtrack/internal/app"
	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/metrics"
	appsync "github.com/nhle/mailtrack/internal/sync"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the terminal UI",
	Long: `Start the terminal UI on a mailbox of the selected account.

The watched mailboxes of the account are polled in the background; new or
vanished messages refresh the listing without losing your place.`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

var (
	tuiMailbox     string
	tuiMetricsAddr string
)

func init() {
	rootCmd.AddCommand(tuiCmd)

	for _, c := range []*cobra.Command{rootCmd, tuiCmd} {
		c.Flags().StringVarP(&tuiMailbox, "mailbox", "m", "", "mailbox to open (default: first watched mailbox)")
		c.Flags().StringVar(&tuiMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := newEnv(true)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if tuiMetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, tuiMetricsAddr); err != nil {
				e.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	mbox := tuiMailbox
	if mbox == "" {
		mbox = e.account.Mailboxes[0]
	}
	b, err := e.svc.Open(ctx, browse.OpenOptions{Mailbox: mbox})
	if err != nil {
		return err
	}

	interval := time.Duration(e.account.PollIntervalSec) * time.Second
	watcher := appsync.New(e.src, e.account.ID, e.account.Mailboxes, interval, e.logger)
	defer watcher.Stop()

	e.logger.Info("starting terminal UI", "mailbox", mbox)
	m := app.New(e.svc, b, app.Options{
		Account: e.account.ID,
		Watched: e.account.Mailboxes,
		Watcher: watcher,
		Logger:  e.logger,
	})
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
