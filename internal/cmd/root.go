// Package cmd implements the mailtrack command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mailtrack",
	Short: "Browse IMAP mailboxes from the terminal",
	Long: `mailtrack pages through IMAP mailboxes and searches sorted on the
server, and remembers which message you were reading when messages arrive
or disappear underneath you.

Without a subcommand it starts the terminal UI.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

var (
	cfgFile   string
	accountID string
	logLevel  string
)

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/mailtrack/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&accountID, "account", "a", "", "account id or name (default: first configured)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug/info/warn/error)")
}
