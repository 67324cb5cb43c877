package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/source/email"
)

var showCmd = &cobra.Command{
	Use:   "show <uid|indices>",
	Short: "Print a message and its neighbours",
	Long: `Print a message and move the remembered position to it.

The message is a UID in --mailbox, or indices as printed by this command
("{5}INBOX42"). Use --next or --prev to step from the remembered position
instead.

Examples:
  mailtrack show 42
  mailtrack show '{7}Archive1203'
  mailtrack show --next`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

var (
	showFlags contextFlags
	showNext  bool
	showPrev  bool
)

func init() {
	rootCmd.AddCommand(showCmd)

	showFlags.register(showCmd)
	showCmd.Flags().BoolVar(&showNext, "next", false, "show the message after the remembered one")
	showCmd.Flags().BoolVar(&showPrev, "prev", false, "show the message before the remembered one")
	showCmd.MarkFlagsMutuallyExclusive("next", "prev")
}

func runShow(cmd *cobra.Command, args []string) error {
	stepping := showNext || showPrev
	if stepping == (len(args) == 1) {
		return errors.New("give a message or one of --next/--prev")
	}

	e, err := newEnv(false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	opts := showFlags.options(e.account)
	b, err := e.svc.Open(ctx, opts)
	if err != nil {
		return err
	}

	var view *browse.MessageView
	switch {
	case showNext:
		view, err = b.Next(ctx)
	case showPrev:
		view, err = b.Prev(ctx)
	default:
		var ind model.Indices
		ind, err = parseRefs(args, defaultMailbox(opts, e.account))
		if err != nil {
			return err
		}
		ref, ok := ind.Single()
		if !ok {
			return fmt.Errorf("show takes exactly one message, got %d", ind.Len())
		}
		view, err = b.Show(ctx, ref)
	}
	if errors.Is(err, mailbox.ErrNoMessage) {
		return errors.New("no such message")
	}
	if err != nil {
		return err
	}

	printMessage(cmd.OutOrStdout(), view)
	return nil
}

func defaultMailbox(opts browse.OpenOptions, a model.AccountConfig) string {
	if opts.Search == nil {
		return opts.Mailbox
	}
	if len(opts.Search.Mailboxes) > 0 {
		return opts.Search.Mailboxes[0]
	}
	return a.Mailboxes[0]
}

func printMessage(w io.Writer, v *browse.MessageView) {
	msg := v.Message
	fmt.Fprintf(w, "%s · message %d of %d\n", msg.Ref.Mailbox, v.Position, v.Count)
	fmt.Fprintln(w, strings.Repeat("─", 72))
	fmt.Fprintf(w, "Subject: %s\n", subjectOf(msg.MessageSummary, false))
	fmt.Fprintf(w, "From:    %s\n", msg.From)
	if len(msg.To) > 0 {
		fmt.Fprintf(w, "To:      %s\n", strings.Join(msg.To, ", "))
	}
	if !msg.Date.IsZero() {
		fmt.Fprintf(w, "Date:    %s\n", msg.Date.Format("Mon, 02 Jan 2006 15:04 MST"))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimRight(email.PlainText(msg), "\n"))

	if len(msg.Attachments) > 0 {
		fmt.Fprintln(w)
		for _, a := range msg.Attachments {
			fmt.Fprintf(w, "[attachment] %s (%s, %s)\n", a.Filename, a.MIMEType, humanize.Bytes(uint64(a.Size)))
		}
	}

	fmt.Fprintln(w, strings.Repeat("─", 72))
	if v.Prev != nil {
		fmt.Fprintf(w, "prev: %s\n", v.Prev)
	}
	if v.Next != nil {
		fmt.Fprintf(w, "next: %s\n", v.Next)
	}
}
