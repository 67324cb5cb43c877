package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/model"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Print a page of a mailbox or search",
	Long: `Print one page of a mailbox, sorted the way the terminal UI sorts it.

Without --page the page holding the remembered position is shown, or the
page chosen by display.start the first time a mailbox is listed.

Examples:
  # List the first watched mailbox
  mailtrack ls

  # Second page of Archive
  mailtrack ls -m Archive --page 2

  # Search every watched mailbox
  mailtrack ls -s invoice

  # Search two mailboxes
  mailtrack ls -s invoice --in INBOX,Archive`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

var (
	lsFlags contextFlags
	lsPage  int
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsFlags.register(lsCmd)
	lsCmd.Flags().IntVarP(&lsPage, "page", "p", 0, "page to print (1-based)")
}

func runLs(cmd *cobra.Command, args []string) error {
	e, err := newEnv(false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	b, err := e.svc.Open(ctx, lsFlags.options(e.account))
	if err != nil {
		return err
	}
	view, err := b.Page(ctx, lsPage, 0)
	if err != nil {
		return err
	}

	printPage(cmd.OutOrStdout(), b, view)
	return nil
}

func printPage(w io.Writer, b *browse.Browser, view *browse.PageView) {
	fmt.Fprintf(w, "%s · page %d/%d · %s\n", b.Mailbox(), view.Page.Page, view.PageCount,
		plural(view.MessageCount, "message"))
	fmt.Fprintln(w, strings.Repeat("─", 72))

	if len(view.Messages) == 0 {
		switch {
		case b.IsSearch():
			fmt.Fprintln(w, "No messages match this search.")
		case view.AnyMessages:
			fmt.Fprintln(w, "Only deleted messages remain in this mailbox.")
		default:
			fmt.Fprintln(w, "This mailbox is empty.")
		}
		return
	}

	cursor := -1
	if view.Index != nil {
		cursor = *view.Index + 1
	}
	for i, sum := range view.Messages {
		pos := view.Begin + i
		mark := " "
		if pos == cursor {
			mark = ">"
		}
		fmt.Fprintf(w, "%s%4d %s %-24s %-36s %s\n",
			mark, pos, flagMarker(sum), clip(sum.From, 24), clip(subjectOf(sum, b.IsSearch()), 36), when(sum))
	}
}

func flagMarker(sum model.MessageSummary) string {
	switch {
	case sum.Flagged():
		return "!"
	case !sum.Seen():
		return "N"
	default:
		return " "
	}
}

func subjectOf(sum model.MessageSummary, showMailbox bool) string {
	s := sum.Subject
	if s == "" {
		s = "(no subject)"
	}
	if showMailbox {
		s = "[" + sum.Ref.Mailbox + "] " + s
	}
	return s
}

func when(sum model.MessageSummary) string {
	if sum.Date.IsZero() {
		return humanize.Bytes(uint64(sum.Size))
	}
	return humanize.Time(sum.Date) + " · " + humanize.Bytes(uint64(sum.Size))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), noun)
}
