package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/emersion/go-imap/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/credential"
	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/mailbox/mailboxtest"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/ui/account"
)

// executeCommand runs the root command with args and returns captured output.
func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

type cli struct {
	src     *mailboxtest.Source
	creds   *credential.Keyring
	cfgPath string
}

// setupCLI writes a config for one account backed by an in-memory mail
// source and keyring.
func setupCLI(t *testing.T) *cli {
	t.Helper()
	resetFlags()

	dir := t.TempDir()
	c := &cli{
		src:     mailboxtest.New().SetUIDs("INBOX", 1, 2, 3).SetUIDs("Archive", 7),
		creds:   credential.NewKeyring(keyring.NewArrayKeyring(nil)),
		cfgPath: filepath.Join(dir, "config.yaml"),
	}
	c.src.SetText("Archive", 7, "quarterly report")
	require.NoError(t, c.creds.SetPassword("work", "secret"))

	cfg := &model.AppConfig{
		Accounts: []model.AccountConfig{{
			ID:              "work",
			Name:            "Work",
			Host:            "imap.example.com",
			Port:            "993",
			Username:        "me",
			TLS:             true,
			PollIntervalSec: 60,
			Mailboxes:       []string{"INBOX", "Archive"},
		}},
		Display: model.DisplayConfig{PageSize: 20, Sort: "arrival", Start: "first"},
		IMAP:    model.IMAPConfig{MaxConnections: 2, TimeoutSec: 5},
		Store:   model.StoreConfig{Path: filepath.Join(dir, "state.db")},
		Log:     model.LogConfig{Level: "debug", File: filepath.Join(dir, "mailtrack.log")},
	}
	require.NoError(t, model.SaveConfig(c.cfgPath, cfg))
	cfgFile = c.cfgPath

	origCreds, origFetcher, origConfirm := openCredentials, newFetcher, confirmAll
	origForm, origCheck := runAccountForm, checkAccount
	t.Cleanup(func() {
		openCredentials, newFetcher, confirmAll = origCreds, origFetcher, origConfirm
		runAccountForm, checkAccount = origForm, origCheck
	})

	openCredentials = func() (credential.Store, error) { return c.creds, nil }
	newFetcher = func(_ *model.AppConfig, _ model.AccountConfig, password string, _ *logging.Logger) browse.Fetcher {
		assert.Equal(t, "secret", password)
		return c.src
	}
	return c
}

// resetFlags clears values left behind by previous executions; cobra keeps
// flag state between runs of the same command tree. The config file is
// kept.
func resetFlags() {
	accountID, logLevel = "", ""
	lsFlags.reset()
	lsPage = 0
	showFlags.reset()
	showNext, showPrev = false, false
	rmFlags.reset()
	rmAll, rmYes = false, false
	loginSkipCheck = false
	tuiMailbox, tuiMetricsAddr = "", ""

	var unmark func(c *cobra.Command)
	unmark = func(c *cobra.Command) {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
		for _, sub := range c.Commands() {
			unmark(sub)
		}
	}
	unmark(rootCmd)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "mailtrack", rootCmd.Use)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"tui", "ls", "show", "rm", "login"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestLs(t *testing.T) {
	setupCLI(t)

	out, err := executeCommand("ls")
	require.NoError(t, err)
	assert.Contains(t, out, "INBOX · page 1/1 · 3 messages")
	assert.Contains(t, out, "subject 1")
	assert.Contains(t, out, "subject 3")
	assert.NotContains(t, out, "subject 7")
}

func TestLs_Search(t *testing.T) {
	setupCLI(t)

	out, err := executeCommand("ls", "-s", "quarterly")
	require.NoError(t, err)
	assert.Contains(t, out, "1 message")
	assert.Contains(t, out, "[Archive] subject 7")
}

func TestLs_EmptyMailbox(t *testing.T) {
	c := setupCLI(t)
	c.src.SetUIDs("Junk")

	out, err := executeCommand("ls", "-m", "Junk")
	require.NoError(t, err)
	assert.Contains(t, out, "This mailbox is empty.")
}

func TestShowAndStep(t *testing.T) {
	setupCLI(t)

	out, err := executeCommand("show", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "INBOX · message 2 of 3")
	assert.Contains(t, out, "prev: {5}INBOX1")
	assert.Contains(t, out, "next: {5}INBOX3")
}

func TestShowNextResumesFromSavedCursor(t *testing.T) {
	c := setupCLI(t)

	_, err := executeCommand("show", "2")
	require.NoError(t, err)

	resetFlags()
	out, err := executeCommand("show", "--next")
	require.NoError(t, err)
	assert.Contains(t, out, "message 3 of 3")

	resetFlags()
	_, err = executeCommand("show", "--next")
	assert.EqualError(t, err, "no such message")
}

func TestShow_Indices(t *testing.T) {
	setupCLI(t)

	out, err := executeCommand("show", "-s", "quarterly", "{7}Archive7")
	require.NoError(t, err)
	assert.Contains(t, out, "Archive · message 1 of 1")
	assert.Contains(t, out, "quarterly report")
}

func TestShow_Validation(t *testing.T) {
	setupCLI(t)

	_, err := executeCommand("show")
	assert.Error(t, err)

	resetFlags()
	_, err = executeCommand("show", "{5}INBOX1:2")
	assert.ErrorContains(t, err, "exactly one message")
}

func TestRm(t *testing.T) {
	c := setupCLI(t)

	out, err := executeCommand("rm", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 message.")
	assert.Equal(t, []imap.UID{1, 3}, c.src.UIDs("INBOX"))
}

func TestRm_All(t *testing.T) {
	c := setupCLI(t)

	confirmAll = func(string) (bool, error) { return false, nil }
	out, err := executeCommand("rm", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")
	assert.Len(t, c.src.UIDs("INBOX"), 3)

	resetFlags()
	out, err = executeCommand("rm", "--all", "-y")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted every message in INBOX.")
	assert.Empty(t, c.src.UIDs("INBOX"))
}

func TestRm_Validation(t *testing.T) {
	setupCLI(t)

	_, err := executeCommand("rm")
	assert.Error(t, err)

	resetFlags()
	_, err = executeCommand("rm", "abc")
	assert.ErrorIs(t, err, model.ErrMalformedIndices)
}

func TestMissingPassword(t *testing.T) {
	c := setupCLI(t)
	require.NoError(t, c.creds.DeletePassword("work"))

	_, err := executeCommand("ls")
	assert.ErrorContains(t, err, "mailtrack login")
}

func TestLogin_NewAccount(t *testing.T) {
	c := setupCLI(t)

	var checked string
	checkAccount = func(_ context.Context, _ *model.AppConfig, a model.AccountConfig, password string) error {
		checked = a.Host + ":" + password
		return nil
	}
	runAccountForm = func(a model.AccountConfig) (account.Fields, bool, error) {
		assert.Empty(t, a.ID)
		return account.Fields{
			Name: "Home", Host: "imap.home.example", Port: "993",
			Username: "me", Password: "pw", TLS: true, Mailboxes: "INBOX",
		}, true, nil
	}

	out, err := executeCommand("login", "--account", "home")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved account home")
	assert.Equal(t, "imap.home.example:pw", checked)

	cfg, err := model.LoadConfig(c.cfgPath)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "home", cfg.Accounts[1].ID)
	assert.Equal(t, 120, cfg.Accounts[1].PollIntervalSec)

	pw, err := c.creds.Password("home")
	require.NoError(t, err)
	assert.Equal(t, "pw", pw)
}

func TestLogin_KeepsStoredPassword(t *testing.T) {
	c := setupCLI(t)

	checkAccount = func(_ context.Context, _ *model.AppConfig, _ model.AccountConfig, password string) error {
		assert.Equal(t, "secret", password)
		return nil
	}
	runAccountForm = func(a model.AccountConfig) (account.Fields, bool, error) {
		f := account.FieldsFrom(a)
		f.Host = "imap2.example.com"
		return f, true, nil
	}

	_, err := executeCommand("login", "-a", "work")
	require.NoError(t, err)

	cfg, err := model.LoadConfig(c.cfgPath)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "imap2.example.com", cfg.Accounts[0].Host)
}

func TestLogin_FailedCheckSavesNothing(t *testing.T) {
	c := setupCLI(t)

	checkAccount = func(context.Context, *model.AppConfig, model.AccountConfig, string) error {
		return errors.New("authentication failed")
	}
	runAccountForm = func(model.AccountConfig) (account.Fields, bool, error) {
		return account.Fields{Name: "Other", Host: "h", Port: "993", Username: "u", Password: "p"}, true, nil
	}

	_, err := executeCommand("login")
	assert.EqualError(t, err, "authentication failed")

	_, err = c.creds.Password("other")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestLogin_Cancelled(t *testing.T) {
	setupCLI(t)
	runAccountForm = func(model.AccountConfig) (account.Fields, bool, error) {
		return account.Fields{}, false, nil
	}

	out, err := executeCommand("login")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")
}

func TestParseRefs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "uids", args: []string{"3", "1"}, want: "{5}INBOX1,3"},
		{name: "indices", args: []string{"{7}Archive4:5"}, want: "{7}Archive4:5"},
		{name: "mixed", args: []string{"2", "{4}Sent9"}, want: "{5}INBOX2{4}Sent9"},
		{name: "zero", args: []string{"0"}, wantErr: true},
		{name: "garbage", args: []string{"x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ind, err := parseRefs(tt.args, "INBOX")
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrMalformedIndices)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ind.String())
		})
	}
}
