package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/benaskins/credstore/internal/dispatch"
	"github.com/benaskins/credstore/internal/keychain"
)

var (
	baseStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// deliverMsg carries a task completion onto the bubbletea event loop.
type deliverMsg func()

// scheduler is the part of a session the browser needs.
type scheduler interface {
	Schedule(dispatch.Task, func(dispatch.Result))
}

// browseModel is a pointer model: completion callbacks run inside Update
// and mutate it on the UI goroutine.
type browseModel struct {
	service  string
	tasks    scheduler
	table    table.Model
	creds    []keychain.Credential
	loading  bool
	inflight int
	status   string
	err      string
}

func newBrowseModel(service string) *browseModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Account", Width: 28},
			{Title: "Attributes", Width: 60},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(false)
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Bold(false)
	t.SetStyles(s)

	return &browseModel{service: service, table: t}
}

func (m *browseModel) Init() tea.Cmd {
	m.reload()
	return nil
}

func (m *browseModel) reload() {
	m.loading = true
	m.inflight++
	m.tasks.Schedule(dispatch.FindCredentialsTask(m.service), m.loaded)
}

func (m *browseModel) loaded(r dispatch.Result) {
	m.inflight--
	m.loading = false
	if r.Err != nil {
		m.err = r.Err.Error()
		return
	}
	m.err = ""
	m.creds = r.Credentials()

	rows := make([]table.Row, 0, len(m.creds))
	for _, c := range m.creds {
		rows = append(rows, table.Row{c.Account, formatAttributes(c.Attributes)})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(max(len(rows)-1, 0))
	}
}

func (m *browseModel) deleteSelected() {
	row := m.table.SelectedRow()
	if row == nil {
		return
	}
	account := row[0]
	m.inflight++
	m.status = fmt.Sprintf("deleting %s...", account)
	m.tasks.Schedule(dispatch.DeleteTask(m.service, account), func(r dispatch.Result) {
		m.inflight--
		switch {
		case r.Err != nil:
			m.err = r.Err.Error()
			m.status = ""
		case r.Deleted():
			m.status = fmt.Sprintf("deleted %s", account)
		default:
			m.status = fmt.Sprintf("%s was already gone", account)
		}
		m.reload()
	})
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case deliverMsg:
		msg()
		return m, nil
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-8, 3))
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.status = ""
			m.reload()
			return m, nil
		case "d":
			m.deleteSelected()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *browseModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Secrets for %s\n", m.service)
	b.WriteString(baseStyle.Render(m.table.View()))
	b.WriteString("\n")

	switch {
	case m.err != "":
		b.WriteString(errorStyle.Render("error: " + m.err))
	case m.loading:
		b.WriteString(helpStyle.Render("loading..."))
	case len(m.creds) == 0:
		b.WriteString(helpStyle.Render("no secrets stored"))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	default:
		b.WriteString(helpStyle.Render(fmt.Sprintf("%d account(s)", len(m.creds))))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ move • d delete • r reload • q quit"))
	b.WriteString("\n")
	return b.String()
}

var browseCmd = &cobra.Command{
	Use:   "browse <service>",
	Short: "Browse the accounts stored for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newBrowseModel(args[0])
		p := tea.NewProgram(m, tea.WithAltScreen())

		deliver := dispatch.DelivererFunc(func(fn func()) { p.Send(deliverMsg(fn)) })
		s, err := openSession("cli", deliver)
		if err != nil {
			return err
		}
		defer s.Close()
		m.tasks = s

		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
