// Package remote implements the line-delimited JSON console protocol used
// to watch and drive a running multisave daemon.
package remote

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/joe/multisave/internal/backup"
)

// Command verbs understood by the server.
const (
	VerbList      = "LIST"
	VerbStart     = "START"
	VerbPause     = "PAUSE"
	VerbResume    = "RESUME"
	VerbStop      = "STOP"
	VerbPauseAll  = "PAUSEALL"
	VerbResumeAll = "RESUMEALL"
)

// ErrUnknownCommand is returned for lines that name no known verb.
const ErrUnknownCommand = errors.ConstError("Unknown command")

// Command is one parsed client line.
type Command struct {
	Verb  string
	Index int
}

// String renders the command as it travels on the wire.
func (c Command) String() string {
	if needsIndex(c.Verb) {
		return c.Verb + " " + strconv.Itoa(c.Index)
	}

	return c.Verb
}

func needsIndex(verb string) bool {
	switch verb {
	case VerbStart, VerbPause, VerbResume, VerbStop:
		return true
	}

	return false
}

// ParseCommand parses a command line. Verbs are case-insensitive and
// indices are zero-based.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}

	verb := strings.ToUpper(fields[0])

	switch verb {
	case VerbList, VerbPauseAll, VerbResumeAll:
		if len(fields) != 1 {
			return Command{}, errors.NotValidf("%s takes no argument", verb)
		}

		return Command{Verb: verb}, nil
	case VerbStart, VerbPause, VerbResume, VerbStop:
		if len(fields) != 2 {
			return Command{}, errors.NotValidf("%s needs one job index", verb)
		}

		index, err := strconv.Atoi(fields[1])
		if err != nil || index < 0 {
			return Command{}, errors.NotValidf("job index %q", fields[1])
		}

		return Command{Verb: verb, Index: index}, nil
	}

	return Command{}, ErrUnknownCommand
}

// encodeLine marshals v as one protocol line.
func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return append(data, '\n'), nil
}

// failure builds the response for a command that could not be run.
func failure(err error) backup.Result {
	return backup.Result{Message: err.Error()}
}

func isStatusLine(line []byte) bool {
	trimmed := strings.TrimSpace(string(line))
	return strings.HasPrefix(trimmed, "[")
}
