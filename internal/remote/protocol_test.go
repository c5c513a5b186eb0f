package remote_test

import (
	"testing"

	"github.com/juju/errors"
	. "github.com/onsi/gomega"

	"github.com/joe/multisave/internal/remote"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	valid := map[string]remote.Command{
		"LIST":      {Verb: remote.VerbList},
		"  list  ":  {Verb: remote.VerbList},
		"start 2":   {Verb: remote.VerbStart, Index: 2},
		"Pause 0":   {Verb: remote.VerbPause, Index: 0},
		"RESUME 4":  {Verb: remote.VerbResume, Index: 4},
		"stop 1":    {Verb: remote.VerbStop, Index: 1},
		"pauseall":  {Verb: remote.VerbPauseAll},
		"RESUMEALL": {Verb: remote.VerbResumeAll},
	}

	for line, want := range valid {
		t.Run(line, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			cmd, err := remote.ParseCommand(line)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(cmd).To(Equal(want))
		})
	}
}

func TestParseCommandRejects(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	for _, line := range []string{"", "DANCE", "HELLO 1"} {
		_, err := remote.ParseCommand(line)
		g.Expect(err).To(MatchError(remote.ErrUnknownCommand), line)
	}

	for _, line := range []string{"START", "START x", "PAUSE -1", "LIST 3", "STOP 1 2"} {
		_, err := remote.ParseCommand(line)
		g.Expect(errors.Is(err, errors.NotValid)).To(BeTrue(), line)
	}
}

func TestCommandString(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(remote.Command{Verb: remote.VerbStop, Index: 3}.String()).To(Equal("STOP 3"))
	g.Expect(remote.Command{Verb: remote.VerbPauseAll}.String()).To(Equal("PAUSEALL"))
}
