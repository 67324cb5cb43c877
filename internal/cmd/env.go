package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/credential"
	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/source/email"
	"github.com/nhle/mailtrack/internal/store"
)

// Replaced in tests.
var (
	openCredentials = func() (credential.Store, error) { return credential.Open() }
	newFetcher      = dialFetcher
)

func dialFetcher(cfg *model.AppConfig, a model.AccountConfig, password string, logger *logging.Logger) browse.Fetcher {
	return email.NewAdapter(emailConfig(cfg, a, password), cfg.IMAP.MaxConnections, logger)
}

func emailConfig(cfg *model.AppConfig, a model.AccountConfig, password string) email.Config {
	return email.Config{
		Account:  a.ID,
		Host:     a.Host,
		Port:     a.Port,
		Username: a.Username,
		Password: password,
		TLS:      a.TLS,
		Timeout:  time.Duration(cfg.IMAP.TimeoutSec) * time.Second,
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return model.DefaultConfigPath()
}

func loadConfig() (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(configPath())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// env is everything a command needs to browse one account.
type env struct {
	cfg     *model.AppConfig
	account model.AccountConfig
	logger  *logging.Logger
	store   *store.SQLiteStore
	src     browse.Fetcher
	svc     *browse.Service
}

// newEnv loads the configuration and opens the state database and the mail
// source of the selected account. Interactive sessions log to a file so the
// terminal stays clean.
func newEnv(interactive bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	account, err := cfg.Account(accountID)
	if err != nil {
		return nil, fmt.Errorf("%w; run `mailtrack login` to add one", err)
	}

	logPath := cfg.Log.File
	if interactive && logPath == "" {
		logPath = filepath.Join(model.ConfigDir(), "mailtrack.log")
	}
	logger, err := logging.NewLogger(logPath, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger = logger.WithAccount(account.ID)

	creds, err := openCredentials()
	if err != nil {
		logger.Close()
		return nil, err
	}
	password, err := creds.Password(account.ID)
	if errors.Is(err, credential.ErrNotFound) {
		logger.Close()
		return nil, fmt.Errorf("no password stored for %s; run `mailtrack login --account %s`", account.ID, account.ID)
	}
	if err != nil {
		logger.Close()
		return nil, err
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Close()
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Close()
		return nil, err
	}

	bcfg, err := browse.ConfigFrom(account.ID, cfg.Display)
	if err != nil {
		st.Close()
		logger.Close()
		return nil, err
	}

	src := newFetcher(cfg, account, password, logger)
	return &env{
		cfg:     cfg,
		account: account,
		logger:  logger,
		store:   st,
		src:     src,
		svc:     browse.NewService(src, st, bcfg, logger),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing state database", "error", err)
	}
	e.logger.Close()
}

// contextFlags select the listing a command works on.
type contextFlags struct {
	mailbox string
	search  string
	in      []string
}

func (f *contextFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.mailbox, "mailbox", "m", "", "mailbox to browse (default: first watched mailbox)")
	flags.StringVarP(&f.search, "search", "s", "", "search text; lists matches instead of a mailbox")
	flags.StringSliceVar(&f.in, "in", nil, "mailboxes to search (default: the watched mailboxes)")
}

func (f *contextFlags) reset() {
	*f = contextFlags{}
}

// options builds the browse.OpenOptions for the flags.
func (f *contextFlags) options(a model.AccountConfig) browse.OpenOptions {
	if f.search == "" && len(f.in) == 0 {
		mbox := f.mailbox
		if mbox == "" {
			mbox = a.Mailboxes[0]
		}
		return browse.OpenOptions{Mailbox: mbox}
	}

	in := f.in
	if len(in) == 0 {
		in = a.Mailboxes
	}
	return browse.OpenOptions{
		Mailbox: f.mailbox,
		Search:  &mailbox.SearchQuery{Mailboxes: in, Text: f.search},
	}
}

// parseRefs reads message arguments. Each is either a UID in the flag
// mailbox or indices such as "{5}INBOX1:3,7".
func parseRefs(args []string, defaultMailbox string) (model.Indices, error) {
	var ind model.Indices
	for _, arg := range args {
		if n, err := strconv.ParseUint(arg, 10, 32); err == nil && n > 0 {
			ind.Add(defaultMailbox, imap.UID(n))
			continue
		}
		if !strings.HasPrefix(arg, "{") {
			return model.Indices{}, fmt.Errorf("%q: %w", arg, model.ErrMalformedIndices)
		}
		parsed, err := model.ParseIndices(arg)
		if err != nil {
			return model.Indices{}, err
		}
		for _, ref := range parsed.Refs() {
			ind.Add(ref.Mailbox, ref.UID)
		}
	}
	return ind, nil
}
