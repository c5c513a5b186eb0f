package console

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/multisave/internal/backup"
)

// StatusMsg carries a pushed status list into the model.
type StatusMsg struct {
	Statuses []backup.StatusDTO
}

// DisconnectedMsg reports that the push connection was lost.
type DisconnectedMsg struct {
	Err error
}

// Bridge adapts the client's push stream to bubble tea messages.
type Bridge struct {
	statuses chan tea.Msg
	lost     chan tea.Msg
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		statuses: make(chan tea.Msg, 1),
		lost:     make(chan tea.Msg, 1),
	}
}

// Pump forwards status lists from in until it is closed. Each list is a
// full snapshot, so only the latest one is kept for the model.
func (b *Bridge) Pump(in <-chan []backup.StatusDTO) {
	go func() {
		for statuses := range in {
			b.offer(StatusMsg{Statuses: statuses})
		}
	}()
}

// offer replaces an unread status list with msg. Pump is the only sender.
func (b *Bridge) offer(msg StatusMsg) {
	for {
		select {
		case b.statuses <- msg:
			return
		default:
		}

		select {
		case <-b.statuses:
		default:
		}
	}
}

// Disconnected is meant for Client.OnDisconnected.
func (b *Bridge) Disconnected(err error) {
	select {
	case b.lost <- DisconnectedMsg{Err: err}:
	default:
	}
}

// ListenCmd blocks until the next message is available.
func (b *Bridge) ListenCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.lost:
			return msg
		case msg := <-b.statuses:
			return msg
		}
	}
}
