package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtrack/internal/model"
)

var rmCmd = &cobra.Command{
	Use:   "rm <uid|indices>... | --all",
	Short: "Delete messages",
	Long: `Delete messages from the server and from the remembered listing.

Messages are UIDs in --mailbox or indices as printed by show. With --all
every message of the mailbox, or of each searched mailbox, is deleted.

Examples:
  mailtrack rm 42 43
  mailtrack rm '{5}INBOX1:9'
  mailtrack rm -m Junk --all`,
	RunE: runRm,
}

var (
	rmFlags contextFlags
	rmAll   bool
	rmYes   bool
)

// confirmAll asks before deleting everything. Replaced in tests.
var confirmAll = func(target string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Delete every message in %s?", target)).
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

func init() {
	rootCmd.AddCommand(rmCmd)

	rmFlags.register(rmCmd)
	rmCmd.Flags().BoolVar(&rmAll, "all", false, "delete every message")
	rmCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "do not ask for confirmation")
}

func runRm(cmd *cobra.Command, args []string) error {
	if rmAll == (len(args) > 0) {
		return errors.New("give messages to delete or --all")
	}

	e, err := newEnv(false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	opts := rmFlags.options(e.account)
	b, err := e.svc.Open(ctx, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rmAll {
		if !rmYes {
			ok, err := confirmAll(b.Mailbox())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Cancelled.")
				return nil
			}
		}
		if err := b.Delete(ctx, model.RemoveAll()); err != nil {
			return err
		}
		e.logger.Info("deleted all messages", "mailbox", b.Mailbox())
		fmt.Fprintf(out, "Deleted every message in %s.\n", b.Mailbox())
		return nil
	}

	ind, err := parseRefs(args, defaultMailbox(opts, e.account))
	if err != nil {
		return err
	}
	if err := b.Delete(ctx, model.RemoveIndices(ind)); err != nil {
		return err
	}
	e.logger.Info("deleted messages", "indices", ind.String())
	fmt.Fprintf(out, "Deleted %s.\n", plural(ind.Len(), "message"))
	return nil
}
