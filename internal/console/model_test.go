package console

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/juju/errors"
	. "github.com/onsi/gomega"

	"github.com/joe/multisave/internal/backup"
)

type fakeCommander struct {
	mu       sync.Mutex
	calls    []string
	statuses []backup.StatusDTO
	err      error
}

func (f *fakeCommander) record(call string) (backup.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
	if f.err != nil {
		return backup.Result{}, f.err
	}

	return backup.Result{Success: true, Message: call + " ok"}, nil
}

func (f *fakeCommander) List(context.Context) ([]backup.StatusDTO, error) {
	f.record("list")
	return f.statuses, f.err
}

func (f *fakeCommander) Start(_ context.Context, i int) (backup.Result, error) {
	return f.record("start " + string(rune('0'+i)))
}

func (f *fakeCommander) Pause(_ context.Context, i int) (backup.Result, error) {
	return f.record("pause " + string(rune('0'+i)))
}

func (f *fakeCommander) Resume(_ context.Context, i int) (backup.Result, error) {
	return f.record("resume " + string(rune('0'+i)))
}

func (f *fakeCommander) Stop(_ context.Context, i int) (backup.Result, error) {
	return f.record("stop " + string(rune('0'+i)))
}

func (f *fakeCommander) PauseAll(context.Context) (backup.Result, error) {
	return f.record("pauseall")
}

func (f *fakeCommander) ResumeAll(context.Context) (backup.Result, error) {
	return f.record("resumeall")
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func twoJobs() []backup.StatusDTO {
	return []backup.StatusDTO{
		{Index: 0, Name: "docs", State: "Completed", Progress: 100},
		{Index: 1, Name: "photos", State: "Active", Progress: 40},
	}
}

// press feeds a key and, when it produces a command, runs it and feeds the
// resulting message back.
func press(m Model, msg tea.KeyMsg) Model {
	next, cmd := m.Update(msg)
	m = next.(Model)

	if cmd != nil {
		if out := cmd(); out != nil {
			next, _ = m.Update(out)
			m = next.(Model)
		}
	}

	return m
}

func TestModelSendsCommandForSelectedJob(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fake := &fakeCommander{}
	m := New(fake, NewBridge(), "127.0.0.1:8791")

	next, _ := m.Update(StatusMsg{Statuses: twoJobs()})
	m = next.(Model)

	m = press(m, tea.KeyMsg{Type: tea.KeyDown})
	g.Expect(m.cursor).To(Equal(1))

	m = press(m, runes("p"))
	m = press(m, runes("r"))
	m = press(m, runes("x"))
	m = press(m, tea.KeyMsg{Type: tea.KeyUp})
	m = press(m, runes("s"))
	m = press(m, runes("P"))
	m = press(m, runes("R"))

	g.Expect(fake.calls).To(Equal([]string{"pause 1", "resume 1", "stop 1", "start 0", "pauseall", "resumeall"}))
	g.Expect(m.message).To(Equal("resumeall ok"))
	g.Expect(m.failed).To(BeFalse())
}

func TestModelRefreshAndErrors(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fake := &fakeCommander{statuses: twoJobs()}
	m := New(fake, NewBridge(), "addr")

	m = press(m, runes("l"))
	g.Expect(m.statuses).To(HaveLen(2))

	fake.err = errors.New("connection refused")
	m = press(m, runes("s"))
	g.Expect(m.failed).To(BeTrue())
	g.Expect(m.message).To(ContainSubstring("connection refused"))
}

func TestModelWithoutJobs(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fake := &fakeCommander{}
	m := press(New(fake, NewBridge(), "addr"), runes("s"))

	g.Expect(fake.calls).To(BeEmpty())
	g.Expect(m.message).To(Equal("no job selected"))
	g.Expect(m.View()).To(ContainSubstring("no backup jobs configured"))
}

func TestModelClampsCursorOnShrink(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	m := New(&fakeCommander{}, NewBridge(), "addr")
	next, _ := m.Update(StatusMsg{Statuses: twoJobs()})
	m = press(next.(Model), tea.KeyMsg{Type: tea.KeyDown})

	next, _ = m.Update(StatusMsg{Statuses: twoJobs()[:1]})
	g.Expect(next.(Model).cursor).To(Equal(0))
}

func TestModelViewShowsJobsAndDisconnect(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	m := New(&fakeCommander{}, NewBridge(), "addr")
	next, _ := m.Update(StatusMsg{Statuses: twoJobs()})
	next, cmd := next.(Model).Update(DisconnectedMsg{Err: errors.New("EOF")})

	g.Expect(cmd).NotTo(BeNil())

	view := next.(Model).View()
	g.Expect(view).To(ContainSubstring("docs"))
	g.Expect(view).To(ContainSubstring("photos"))
	g.Expect(view).To(ContainSubstring("disconnected: EOF"))
}

func TestModelQuits(t *testing.T) {
	t.Parallel()

	_, cmd := New(&fakeCommander{}, NewBridge(), "addr").Update(runes("q"))
	NewWithT(t).Expect(cmd()).To(Equal(tea.Quit()))
}

func TestBridgeDeliversStatusesAndLoss(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := NewBridge()
	in := make(chan []backup.StatusDTO, 1)
	bridge.Pump(in)

	in <- twoJobs()
	g.Expect(bridge.ListenCmd()()).To(Equal(StatusMsg{Statuses: twoJobs()}))

	bridge.Disconnected(errors.New("gone"))
	bridge.Disconnected(errors.New("again"))

	msg := bridge.ListenCmd()()
	g.Expect(msg).To(BeAssignableToTypeOf(DisconnectedMsg{}))
	g.Expect(msg.(DisconnectedMsg).Err).To(MatchError("gone"))

	close(in)
}

func TestBridgeKeepsOnlyLatestStatuses(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := NewBridge()

	for progress := 10; progress <= 100; progress += 10 {
		bridge.offer(StatusMsg{Statuses: []backup.StatusDTO{{Name: "docs", State: "Active", Progress: progress}}})
	}

	bridge.offer(StatusMsg{Statuses: []backup.StatusDTO{{Name: "docs", State: "Completed", Progress: 100}}})

	msg := bridge.ListenCmd()()
	g.Expect(msg).To(Equal(StatusMsg{Statuses: []backup.StatusDTO{{Name: "docs", State: "Completed", Progress: 100}}}))
	g.Expect(bridge.statuses).To(BeEmpty())
}

func TestRenderASCIIProgress(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(renderASCIIProgress(0, 10)).To(Equal("[          ]   0%"))
	g.Expect(renderASCIIProgress(0.5, 10)).To(Equal("[====>     ]  50%"))
	g.Expect(renderASCIIProgress(1, 10)).To(Equal("[==========] 100%"))
	g.Expect(renderASCIIProgress(2, 4)).To(Equal("[====] 100%"))
	g.Expect(strings.Count(renderASCIIProgress(0.33, 20), "=")).To(Equal(5))
}
