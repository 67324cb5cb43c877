package cmd

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtrack/internal/credential"
	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/source/email"
	"github.com/nhle/mailtrack/internal/ui/account"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Add an account or update its settings and password",
	Long: `Open a form for the IMAP account selected with --account, or for a new
account when none matches. The connection is checked before anything is
saved. The password is kept in the system keyring, never in the config file.

Leave the password empty to keep the stored one.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var loginSkipCheck bool

// Replaced in tests.
var (
	runAccountForm = func(a model.AccountConfig) (account.Fields, bool, error) {
		final, err := tea.NewProgram(account.New(a, 80)).Run()
		if err != nil {
			return account.Fields{}, false, err
		}
		f, ok := final.(account.Model).Result()
		return f, ok, nil
	}

	checkAccount = func(ctx context.Context, cfg *model.AppConfig, a model.AccountConfig, password string) error {
		adapter := email.NewAdapter(emailConfig(cfg, a, password), 1, logging.NopLogger())
		_, err := adapter.ValidateConnection(ctx)
		return err
	}
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().BoolVar(&loginSkipCheck, "no-check", false, "save without connecting to the server")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configPath())
	if err != nil {
		return err
	}

	existing := model.AccountConfig{}
	idx := -1
	if accountID != "" {
		for i, a := range cfg.Accounts {
			if a.ID == accountID || a.Name == accountID {
				existing, idx = a, i
				break
			}
		}
	}

	fields, ok, err := runAccountForm(existing)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, "Cancelled.")
		return nil
	}
	updated := fields.Apply(existing)
	if idx < 0 {
		for _, a := range cfg.Accounts {
			if a.ID == updated.ID {
				return fmt.Errorf("an account with id %q already exists; use --account %s", updated.ID, updated.ID)
			}
		}
	}

	creds, err := openCredentials()
	if err != nil {
		return err
	}
	password := fields.Password
	if password == "" {
		password, err = creds.Password(updated.ID)
		if errors.Is(err, credential.ErrNotFound) {
			return fmt.Errorf("a password is required for %s", updated.ID)
		}
		if err != nil {
			return err
		}
	}

	if !loginSkipCheck {
		fmt.Fprintf(out, "Connecting to %s:%s...\n", updated.Host, updated.Port)
		if err := checkAccount(cmd.Context(), cfg, updated, password); err != nil {
			return err
		}
	}

	if fields.Password != "" {
		if err := creds.SetPassword(updated.ID, fields.Password); err != nil {
			return err
		}
	}
	if updated.PollIntervalSec == 0 {
		updated.PollIntervalSec = 120
	}
	if idx >= 0 {
		cfg.Accounts[idx] = updated
	} else {
		cfg.Accounts = append(cfg.Accounts, updated)
	}
	if err := model.SaveConfig(configPath(), cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "Saved account %s (%s@%s).\n", updated.ID, updated.Username, updated.Host)
	return nil
}
