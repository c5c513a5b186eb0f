// Package console is the terminal UI for a running multisave daemon.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/juju/errors"

	"github.com/joe/multisave/internal/backup"
)

const callTimeout = 5 * time.Second

// Commander is the set of one-shot calls the console issues.
type Commander interface {
	List(ctx context.Context) ([]backup.StatusDTO, error)
	Start(ctx context.Context, index int) (backup.Result, error)
	Pause(ctx context.Context, index int) (backup.Result, error)
	Resume(ctx context.Context, index int) (backup.Result, error)
	Stop(ctx context.Context, index int) (backup.Result, error)
	PauseAll(ctx context.Context) (backup.Result, error)
	ResumeAll(ctx context.Context) (backup.Result, error)
}

// ResultMsg is the outcome of a control command.
type ResultMsg struct {
	Action string
	Result backup.Result
	Err    error
}

// listMsg is the outcome of a refresh.
type listMsg struct {
	statuses []backup.StatusDTO
	err      error
}

// Model lists jobs and sends control commands for the selected one.
type Model struct {
	commander Commander
	bridge    *Bridge
	addr      string

	keys keyMap
	help help.Model
	bar  progress.Model

	statuses     []backup.StatusDTO
	cursor       int
	message      string
	failed       bool
	disconnected error
}

// New creates the console model.
func New(commander Commander, bridge *Bridge, addr string) Model {
	return Model{
		commander: commander,
		bridge:    bridge,
		addr:      addr,
		keys:      defaultKeyMap(),
		help:      help.New(),
		bar:       newProgressModel(progressBarWidth),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.ListenCmd(), m.refresh())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		m.bar.Width = max(10, min(progressBarWidth, msg.Width/3))

		return m, nil
	case StatusMsg:
		m.setStatuses(msg.Statuses)
		return m, m.bridge.ListenCmd()
	case DisconnectedMsg:
		m.disconnected = msg.Err
		if m.disconnected == nil {
			m.disconnected = errors.New("connection closed")
		}

		return m, m.bridge.ListenCmd()
	case listMsg:
		if msg.err != nil {
			m.message, m.failed = msg.err.Error(), true
			return m, nil
		}

		m.setStatuses(msg.statuses)

		return m, nil
	case ResultMsg:
		switch {
		case msg.Err != nil:
			m.message, m.failed = fmt.Sprintf("%s: %v", msg.Action, msg.Err), true
		default:
			m.message, m.failed = msg.Result.Message, !msg.Result.Success
		}

		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.statuses)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()
	case key.Matches(msg, m.keys.PauseAll):
		return m, m.call("pause all", m.commander.PauseAll)
	case key.Matches(msg, m.keys.ResumeAll):
		return m, m.call("resume all", m.commander.ResumeAll)
	case key.Matches(msg, m.keys.Start):
		return m.onSelected("start", m.commander.Start)
	case key.Matches(msg, m.keys.Pause):
		return m.onSelected("pause", m.commander.Pause)
	case key.Matches(msg, m.keys.Resume):
		return m.onSelected("resume", m.commander.Resume)
	case key.Matches(msg, m.keys.Stop):
		return m.onSelected("stop", m.commander.Stop)
	}

	return m, nil
}

func (m Model) onSelected(action string, fn func(context.Context, int) (backup.Result, error)) (tea.Model, tea.Cmd) {
	if len(m.statuses) == 0 {
		m.message, m.failed = "no job selected", true
		return m, nil
	}

	index := m.statuses[m.cursor].Index

	return m, m.call(action, func(ctx context.Context) (backup.Result, error) {
		return fn(ctx, index)
	})
}

func (m Model) call(action string, fn func(context.Context) (backup.Result, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		result, err := fn(ctx)

		return ResultMsg{Action: action, Result: result, Err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	commander := m.commander

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		statuses, err := commander.List(ctx)

		return listMsg{statuses: statuses, err: err}
	}
}

func (m *Model) setStatuses(statuses []backup.StatusDTO) {
	m.statuses = statuses
	m.cursor = min(m.cursor, max(0, len(statuses)-1))
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle().Render("multisave console"))
	b.WriteString("\n")
	b.WriteString(dimStyle().Render(m.addr))
	b.WriteString("\n\n")

	if len(m.statuses) == 0 {
		b.WriteString(dimStyle().Render("no backup jobs configured"))
	} else {
		rows := make([]string, 0, len(m.statuses))
		for i, status := range m.statuses {
			rows = append(rows, m.renderRow(i == m.cursor, status))
		}

		b.WriteString(boxStyle().Render(strings.Join(rows, "\n")))
	}

	b.WriteString("\n\n")

	if m.message != "" {
		if m.failed {
			b.WriteString(errorStyle().Render(m.message))
		} else {
			b.WriteString(successStyle().Render(m.message))
		}

		b.WriteString("\n")
	}

	if m.disconnected != nil {
		b.WriteString(errorStyle().Render("disconnected: " + m.disconnected.Error()))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))

	return b.String()
}

func (m Model) renderRow(selected bool, status backup.StatusDTO) string {
	marker := "  "
	name := fmt.Sprintf("%-20s", status.Name)

	if selected {
		marker = "▶ "
		name = selectedStyle().Render(name)
	}

	return fmt.Sprintf("%s%d. %s %s %s",
		marker,
		status.Index+1,
		name,
		stateStyle(status.State).Render(fmt.Sprintf("%-10s", status.State)),
		renderProgress(m.bar, float64(status.Progress)/100))
}
