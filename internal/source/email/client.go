package email

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/metrics"
	"github.com/nhle/mailtrack/internal/source"
)

// Config holds the connection settings for one IMAP account.
type Config struct {
	Account  string
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool

	// Timeout bounds each operation, connection included. Zero means no
	// limit beyond the caller's context.
	Timeout time.Duration
}

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
// Every operation opens its own connection.
type IMAPClient struct {
	cfg    Config
	logger *logging.Logger
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(cfg Config, logger *logging.Logger) *IMAPClient {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &IMAPClient{cfg: cfg, logger: logger.WithAccount(cfg.Account)}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout/Close on the returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	addr := c.cfg.Host + ":" + c.cfg.Port

	var client *imapclient.Client
	var err error

	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	metrics.IMAPCommands.WithLabelValues("connect", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := ctx.Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	err = client.Login(c.cfg.Username, c.cfg.Password).Wait()
	metrics.IMAPCommands.WithLabelValues("login", metrics.Status(err)).Inc()
	if err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Account: c.cfg.Account,
			Message: fmt.Sprintf("authentication failed for %s: %v", c.cfg.Username, err),
		}
	}

	return client, nil
}

// session is a connected client with a selected mailbox.
type session struct {
	client *imapclient.Client
	sel    *imap.SelectData
}

// withMailbox connects, selects mailbox and runs fn. The connection is
// closed when fn returns or ctx is done, whichever comes first.
func (c *IMAPClient) withMailbox(
	ctx context.Context,
	mailbox string,
	readOnly bool,
	fn func(s *session) error,
) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer func() {
		if stop() {
			_ = client.Logout().Wait()
		}
	}()

	sel, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	metrics.IMAPCommands.WithLabelValues("select", metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("selecting %s: %w", mailbox, c.ctxErr(ctx, err))
	}

	if err := fn(&session{client: client, sel: sel}); err != nil {
		return c.ctxErr(ctx, err)
	}
	return nil
}

// ctxErr prefers the context error when the connection was torn down by
// cancellation.
func (c *IMAPClient) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}

// search runs UID SEARCH in the selected mailbox.
func (s *session) search(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	metrics.IMAPCommands.WithLabelValues("search", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	return data.AllUIDs(), nil
}

// fetch collects the given items for uids. Messages that fail to decode
// are skipped.
func (s *session) fetch(uids []imap.UID, opts *imap.FetchOptions) ([]*imapclient.FetchMessageBuffer, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), opts)
	defer fetchCmd.Close()

	var bufs []*imapclient.FetchMessageBuffer
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		bufs = append(bufs, buf)
	}

	err := fetchCmd.Close()
	metrics.IMAPCommands.WithLabelValues("fetch", metrics.Status(err)).Inc()
	if err != nil {
		return bufs, fmt.Errorf("fetching messages: %w", err)
	}
	return bufs, nil
}

// expunge permanently removes uids, which must already carry \Deleted.
// Without UIDPLUS a plain EXPUNGE is issued, which also removes any other
// \Deleted messages in the mailbox.
func (s *session) expunge(uids imap.UIDSet) error {
	var err error
	if s.client.Caps().Has(imap.CapUIDPlus) {
		err = s.client.UIDExpunge(uids).Close()
	} else {
		err = s.client.Expunge().Close()
	}
	metrics.IMAPCommands.WithLabelValues("expunge", metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("expunging: %w", err)
	}
	return nil
}

// markDeleted adds \Deleted to the messages in set.
func (s *session) markDeleted(set imap.NumSet) error {
	err := s.client.Store(set, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	metrics.IMAPCommands.WithLabelValues("store", metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("flagging messages deleted: %w", err)
	}
	return nil
}

// Status returns counters for mailbox without selecting it.
func (c *IMAPClient) Status(ctx context.Context, mailbox string) (*imap.StatusData, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer func() {
		if stop() {
			_ = client.Logout().Wait()
		}
	}()

	data, err := client.Status(mailbox, &imap.StatusOptions{
		NumMessages: true,
		NumUnseen:   true,
		UIDNext:     true,
		UIDValidity: true,
	}).Wait()
	metrics.IMAPCommands.WithLabelValues("status", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("status of %s: %w", mailbox, c.ctxErr(ctx, err))
	}
	return data, nil
}
