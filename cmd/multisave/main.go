// Package main is the entry point for the multisave backup engine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/lumberjack/v2"
	"github.com/juju/worker/v4"

	"github.com/joe/multisave/internal/backup"
	"github.com/joe/multisave/internal/config"
	"github.com/joe/multisave/internal/coordinator"
	"github.com/joe/multisave/internal/encryption"
	"github.com/joe/multisave/internal/remote"
	"github.com/joe/multisave/internal/schedule"
	"github.com/joe/multisave/internal/staterecorder"
	"github.com/joe/multisave/internal/transferlog"
)

var logger = loggo.GetLogger("multisave")

const (
	logMaxSizeMB      = 50
	logMaxBackups     = 3
	shutdownTimeout   = 30 * time.Second
	transferLogSizeMB = 100
)

func main() {
	args := config.ParseArgs()

	if err := run(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args *config.Args, out io.Writer) error {
	closeLogs, err := setupLogging(args)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeLogs()

	logger.Debugf("starting with %s", args)

	store := config.NewStore(args.Config)

	doc, err := store.Load()
	if err != nil {
		return errors.Trace(err)
	}

	if err := doc.Settings.Validate(); err != nil {
		return errors.Annotatef(err, "settings in %s", store.Path())
	}

	a, err := newApp(args, store, doc)
	if err != nil {
		return errors.Trace(err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case args.Serve != nil:
		return a.serve(ctx, args.Serve)
	case args.Run != nil:
		return a.runJobs(ctx, out, args.Run)
	case args.Add != nil:
		return a.add(out, args.Add)
	case args.Remove != nil:
		return a.remove(out, args.Remove)
	default:
		return a.list(out)
	}
}

// setupLogging applies --log-level and, with --log-dir, mirrors
// the log to a rotated file.
func setupLogging(args *config.Args) (func(), error) {
	if err := loggo.ConfigureLoggers(args.LogLevel); err != nil {
		return nil, errors.Annotatef(err, "--log-level %q", args.LogLevel)
	}

	path := args.DaemonLogPath()
	if path == "" {
		return func() {}, nil
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		Compress:   true,
	}

	if err := loggo.RegisterWriter("file", loggo.NewSimpleWriter(file, loggo.DefaultFormatter)); err != nil {
		return nil, errors.Annotate(err, "registering file log writer")
	}

	logger.Debugf("created rotating log file %q with max size %d MB and max backups %d",
		file.Filename, file.MaxSize, file.MaxBackups)

	return func() {
		_, _ = loggo.RemoveWriter("file")
		_ = file.Close()
	}, nil
}

// app is the wired engine shared by every subcommand.
type app struct {
	settings    config.Settings
	store       *config.Store
	coordinator *coordinator.Coordinator
	manager     *backup.Manager
	recorder  *staterecorder.Recorder
	transfers transferlog.Sink

	// lastRun is the recorded state from before this process re-created
	// the jobs, which resets them to Inactive.
	lastRun map[string]staterecorder.Entry
}

func newApp(args *config.Args, store *config.Store, doc *config.Document) (*app, error) {
	settings := doc.Settings

	encryptor, err := encryption.New(settings.EncryptCommand, settings.EncryptExtensions)
	if err != nil {
		return nil, errors.Trace(err)
	}

	filter, err := backup.NewGlobFilter(settings.ExcludePatterns)
	if err != nil {
		return nil, errors.Trace(err)
	}

	coord := coordinator.New(settings.PriorityExtensions, settings.MaxParallelSizeKB)

	manager := backup.NewManager(backup.Config{
		MaxJobs: settings.MaxBackupJobs,
		Deps: backup.Deps{
			Coordinator: coord,
			Encryptor:   encryptor,
			Filter:      filter,
		},
		Store: store,
	})

	a := &app{
		settings:    settings,
		store:       store,
		coordinator: coord,
		manager:     manager,
		recorder:    staterecorder.New(args.State),
		lastRun:     make(map[string]staterecorder.Entry),
	}

	for _, entry := range a.recorder.Entries() {
		a.lastRun[entry.Name] = entry
	}

	manager.AttachObserver(backup.ObserverFunc(func(event backup.Event) {
		logger.Debugf("%s", event)
	}))
	manager.AttachObserver(a.recorder)

	if path := args.TransferLogPath(); path != "" {
		a.transfers = transferlog.NewRotatingSink(path, transferLogSizeMB, logMaxBackups)
		manager.AttachObserver(transferlog.NewObserver(a.transfers))
	}

	manager.Load(doc)
	logger.Infof("loaded %d job(s) from %s", manager.Len(), store.Path())

	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.manager.Shutdown(ctx); err != nil {
		logger.Warningf("%v", err)
	}

	if a.transfers != nil {
		if err := a.transfers.Close(); err != nil {
			logger.Warningf("closing transfer log: %v", err)
		}
	}
}

func (a *app) serve(ctx context.Context, cmd *config.ServeCmd) error {
	listen := cmd.Listen
	if listen == "" {
		listen = a.settings.ListenAddress
	}

	server, err := remote.NewServer(remote.ServerConfig{Listen: listen, Controller: a.manager})
	if err != nil {
		return errors.Trace(err)
	}

	sched, err := schedule.New(a.manager, a.settings.Schedules)
	if err != nil {
		_ = worker.Stop(server)
		return errors.Trace(err)
	}

	for _, plan := range sched.Plans() {
		logger.Infof("schedule %q runs jobs %s next at %s", plan.Cron, plan.Jobs, plan.Next.Format(time.RFC3339))
	}

	workers := []worker.Worker{server, sched}
	died := make(chan error, len(workers))

	for _, w := range workers {
		go func(w worker.Worker) { died <- w.Wait() }(w)
	}

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	var cause error

loop:
	for {
		select {
		case <-hangup:
			if err := a.reload(); err != nil {
				logger.Errorf("reloading settings: %v", err)
			}
		case <-ctx.Done():
			logger.Infof("shutting down")
			break loop
		case cause = <-died:
			logger.Errorf("worker stopped unexpectedly: %v", cause)
			break loop
		}
	}

	for _, w := range workers {
		if err := worker.Stop(w); err != nil && cause == nil {
			cause = err
		}
	}

	return errors.Trace(cause)
}

// reload re-reads the settings and applies the transfer rules to running
// and future jobs. Other settings take effect on restart.
func (a *app) reload() error {
	doc, err := a.store.Load()
	if err != nil {
		return errors.Trace(err)
	}

	if err := doc.Settings.Validate(); err != nil {
		return errors.Annotatef(err, "settings in %s", a.store.Path())
	}

	a.coordinator.Reload(doc.Settings.PriorityExtensions, doc.Settings.MaxParallelSizeKB)
	logger.Infof("reloaded transfer rules: priority extensions %v, parallel size %d KB",
		doc.Settings.PriorityExtensions, doc.Settings.MaxParallelSizeKB)

	return nil
}

func (a *app) runJobs(ctx context.Context, out io.Writer, cmd *config.RunCmd) error {
	indices, err := config.ParseJobSelection(cmd.Selection)
	if err != nil {
		return errors.Trace(err)
	}

	result := a.manager.ExecuteJobs(ctx, indices)

	for _, job := range result.Jobs {
		status := "ok"
		if !job.Success {
			status = "FAILED"
		}

		fmt.Fprintf(out, "%d. %-6s %s\n", job.Index+1, status, job.Message)
	}

	fmt.Fprintln(out, result.Message)

	if !result.Success {
		return errors.New("not every job succeeded")
	}

	return nil
}

func (a *app) add(out io.Writer, cmd *config.AddCmd) error {
	if err := a.manager.AddBackupJob(cmd.Name, cmd.Source, cmd.Target, cmd.Type); err != nil {
		return errors.Trace(err)
	}

	fmt.Fprintf(out, "added job %d: %s\n", a.manager.Len(), cmd.Name)

	return nil
}

func (a *app) remove(out io.Writer, cmd *config.RemoveCmd) error {
	if err := a.manager.RemoveBackupJob(cmd.Number - 1); err != nil {
		return errors.Trace(err)
	}

	fmt.Fprintf(out, "removed job %d\n", cmd.Number)

	return nil
}

func (a *app) list(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tTYPE\tSOURCE\tTARGET\tLAST STATE\tPROGRESS")

	for i, job := range a.manager.Jobs() {
		state, progress := "never run", ""
		if entry, ok := a.lastRun[job.Name]; ok && entry.RunID != "" {
			state, progress = entry.State, fmt.Sprintf("%d%%", entry.Progression)
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, job.Name, job.Type, job.SourcePath, job.TargetPath, state, progress)
	}

	for _, sched := range a.settings.Schedules {
		fmt.Fprintf(tw, "\tschedule %s\tjobs %s\t\t\t\t\n", sched.Cron, sched.Jobs)
	}

	return errors.Trace(tw.Flush())
}
