// Package account is the interactive form that configures an IMAP account
// and its password.
package account

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/theme"
)

// Fields holds the values edited by the form.
type Fields struct {
	Name      string
	Host      string
	Port      string
	Username  string
	Password  string
	TLS       bool
	Mailboxes string
}

// FieldsFrom pre-fills the form from an existing account.
func FieldsFrom(a model.AccountConfig) Fields {
	f := Fields{
		Name:      a.Name,
		Host:      a.Host,
		Port:      a.Port,
		Username:  a.Username,
		TLS:       a.TLS,
		Mailboxes: strings.Join(a.Mailboxes, ", "),
	}
	if a.ID == "" {
		f.TLS = true
	}
	if f.Port == "" {
		f.Port = "993"
	}
	return f
}

// Apply copies the form values onto a, keeping its ID and poll interval.
// A new account takes its ID from the name.
func (f Fields) Apply(a model.AccountConfig) model.AccountConfig {
	a.Name = strings.TrimSpace(f.Name)
	a.Host = strings.TrimSpace(f.Host)
	a.Port = strings.TrimSpace(f.Port)
	a.Username = strings.TrimSpace(f.Username)
	a.TLS = f.TLS
	a.Mailboxes = nil
	for _, mbox := range strings.Split(f.Mailboxes, ",") {
		if mbox = strings.TrimSpace(mbox); mbox != "" {
			a.Mailboxes = append(a.Mailboxes, mbox)
		}
	}
	if len(a.Mailboxes) == 0 {
		a.Mailboxes = []string{"INBOX"}
	}
	if a.ID == "" {
		a.ID = slug(a.Name)
	}
	return a
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// NewForm builds the account form bound to f.
func NewForm(f *Fields, width int) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("A label for this account").
				Placeholder("Work").
				Value(&f.Name).
				Validate(validateRequired("Name")),
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&f.Host).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Placeholder("993").
				Value(&f.Port).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Implicit TLS; STARTTLS is used otherwise").
				Affirmative("Yes").
				Negative("No").
				Value(&f.TLS),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Description("IMAP login").
				Placeholder("user@example.com").
				Value(&f.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&f.Password).
				Validate(validateRequired("Password")),
			huh.NewInput().
				Title("Watched mailboxes").
				Description("Comma-separated; searched together and polled for new mail").
				Placeholder("INBOX").
				Value(&f.Mailboxes),
		),
	).WithWidth(width)
}

// Model runs the account form as a standalone program.
type Model struct {
	form      *huh.Form
	fields    *Fields
	completed bool
}

// New creates the form model, pre-filled from a.
func New(a model.AccountConfig, width int) Model {
	fields := FieldsFrom(a)
	return Model{
		form:   NewForm(&fields, min(width, 72)),
		fields: &fields,
	}
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update delegates to the form and quits once it is completed or aborted.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.completed = true
		return m, tea.Quit
	case huh.StateAborted:
		return m, tea.Quit
	}
	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	title := theme.HeaderStyle.Render("mailtrack · account")
	return lipgloss.JoinVertical(lipgloss.Left, title, "", m.form.View())
}

// Result returns the submitted values. ok is false when the form was
// aborted.
func (m Model) Result() (Fields, bool) {
	return *m.fields, m.completed
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
