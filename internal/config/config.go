// Package config handles command-line argument parsing and the persisted
// job registry document.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/juju/errors"
)

// JobType selects the backup strategy of a job.
type JobType int

const (
	// Full copies every source file unconditionally.
	Full JobType = iota
	// Differential copies changed files and prunes stale ones.
	Differential
)

// String returns the string representation of JobType
func (jt JobType) String() string {
	switch jt {
	case Full:
		return "Full"
	case Differential:
		return "Differential"
	default:
		return "unknown"
	}
}

// ParseJobType parses a string into a JobType
func ParseJobType(s string) (JobType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "complete":
		return Full, nil
	case "differential", "diff":
		return Differential, nil
	default:
		return Full, errors.NotValidf("job type %q (valid: full, differential)", s)
	}
}

// MarshalText implements encoding.TextMarshaler so documents store the name.
func (jt JobType) MarshalText() ([]byte, error) {
	if jt != Full && jt != Differential {
		return nil, errors.NotValidf("job type %d", int(jt))
	}

	return []byte(jt.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg and JSON
func (jt *JobType) UnmarshalText(text []byte) error {
	parsed, err := ParseJobType(string(text))
	if err != nil {
		return err
	}
	*jt = parsed
	return nil
}

// Args holds the multisave command line.
type Args struct {
	Config   string `arg:"-c,--config,env:MULTISAVE_CONFIG" default:"multisave.json" help:"Registry document path"`
	State    string `arg:"--state" help:"State snapshot file (default: state.json next to --config)"`
	LogDir   string `arg:"--log-dir" help:"Directory for rotated log files and the transfer log"`
	LogLevel string `arg:"--log-level" default:"<root>=INFO" help:"Logging spec, e.g. <root>=INFO;multisave.remote=DEBUG"`

	Serve  *ServeCmd  `arg:"subcommand:serve" help:"Run the engine, remote console server and schedules until interrupted"`
	Run    *RunCmd    `arg:"subcommand:run" help:"Execute a selection of jobs and wait for them"`
	Add    *AddCmd    `arg:"subcommand:add" help:"Register a backup job"`
	Remove *RemoveCmd `arg:"subcommand:remove" help:"Remove a backup job by its 1-based number"`
	List   *ListCmd   `arg:"subcommand:list" help:"List registered jobs"`
}

// ServeCmd runs the daemon.
type ServeCmd struct {
	Listen string `arg:"-l,--listen" help:"Remote console address (overrides Settings.ListenAddress)"`
}

// RunCmd executes jobs once.
type RunCmd struct {
	Selection string `arg:"positional,required" help:"Jobs to run: 2, 1-3 or 1;2;4"`
}

// AddCmd registers a job.
type AddCmd struct {
	Name   string  `arg:"positional,required"`
	Source string  `arg:"positional,required"`
	Target string  `arg:"positional,required"`
	Type   JobType `arg:"-t,--type" default:"full" help:"full|differential"`
}

// RemoveCmd unregisters a job.
type RemoveCmd struct {
	Number int `arg:"positional,required" help:"1-based job number as shown by list"`
}

// ListCmd prints the registry.
type ListCmd struct{}

// Description returns the program description for go-arg
func (Args) Description() string {
	return "A multi-job file backup engine with a remote console"
}

// Version returns the version string for go-arg
func (Args) Version() string {
	return "multisave 1.0.0"
}

// ConsoleArgs holds the multisave-console command line.
type ConsoleArgs struct {
	Addr string `arg:"-a,--addr,env:MULTISAVE_ADDR" default:"127.0.0.1:8791" help:"Remote console address"`
}

// Description returns the program description for go-arg
func (ConsoleArgs) Description() string {
	return "Terminal console for a running multisave engine"
}

// Version returns the version string for go-arg
func (ConsoleArgs) Version() string {
	return "multisave-console 1.0.0"
}

// ParseArgs parses the multisave command line, exiting on usage errors.
func ParseArgs() *Args {
	args := &Args{}
	parser := arg.MustParse(args)

	if parser.Subcommand() == nil {
		parser.Fail("missing subcommand (serve, run, add, remove or list)")
	}

	processed, err := PostProcessArgs(args)
	if err != nil {
		parser.Fail(err.Error())
	}

	return processed
}

// ParseConsoleArgs parses the multisave-console command line.
func ParseConsoleArgs() *ConsoleArgs {
	args := &ConsoleArgs{}
	arg.MustParse(args)

	return args
}

// PostProcessArgs fills derived defaults and validates a parsed command line.
func PostProcessArgs(args *Args) (*Args, error) {
	if args.Config == "" {
		return nil, errors.NotValidf("empty --config")
	}

	if args.State == "" {
		args.State = filepath.Join(filepath.Dir(args.Config), "state.json")
	}

	if args.Remove != nil && args.Remove.Number < 1 {
		return nil, errors.NotValidf("job number %d", args.Remove.Number)
	}

	if args.Add != nil && strings.TrimSpace(args.Add.Name) == "" {
		return nil, errors.NotValidf("empty job name")
	}

	return args, nil
}

// TransferLogPath returns where the transfer log goes, or "" when disabled.
func (a *Args) TransferLogPath() string {
	if a.LogDir == "" {
		return ""
	}

	return filepath.Join(a.LogDir, "transfers.jsonl")
}

// DaemonLogPath returns where the rotated process log goes, or "" when disabled.
func (a *Args) DaemonLogPath() string {
	if a.LogDir == "" {
		return ""
	}

	return filepath.Join(a.LogDir, "multisave.log")
}

// String renders a one-line summary used in startup logging.
func (a *Args) String() string {
	return fmt.Sprintf("config=%s state=%s log-dir=%q", a.Config, a.State, a.LogDir)
}
