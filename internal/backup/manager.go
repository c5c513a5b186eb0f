package backup

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/joe/multisave/internal/config"
	"github.com/joe/multisave/pkg/fileops"
)

// JobStore persists the registry after every mutation.
type JobStore interface {
	SaveJobs(jobs []config.JobEntry) error
}

// Config holds the Manager's collaborators.
type Config struct {
	// MaxJobs is clamped to [1, config.MaxJobsCeiling].
	MaxJobs int

	Deps  Deps
	Store JobStore
	Clock clock.Clock
}

// Manager is the registry of jobs. It owns their execution and lifecycle
// control and fans job events out to manager-level observers.
type Manager struct {
	maxJobs int
	deps    Deps
	store   JobStore
	clock   clock.Clock

	// observers are attached to every current and future job.
	observers observerList

	mu      sync.RWMutex
	jobs    []*Job
	running map[*Job]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates an empty registry.
func NewManager(cfg Config) *Manager {
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 || maxJobs > config.MaxJobsCeiling {
		maxJobs = config.MaxJobsCeiling
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	return &Manager{
		maxJobs: maxJobs,
		deps:    cfg.Deps.withDefaults(),
		store:   cfg.Store,
		clock:   clk,
		running: make(map[*Job]context.CancelFunc),
	}
}

// AttachObserver subscribes obs to every current and future job, returning
// a function that detaches it from all of them.
func (m *Manager) AttachObserver(obs Observer) func() {
	id := m.observers.attach(obs)

	return func() {
		m.observers.detach(id)
	}
}

// Len returns the number of registered jobs.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.jobs)
}

// Jobs returns a snapshot of every job in registry order.
func (m *Manager) Jobs() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]Snapshot, len(m.jobs))
	for i, job := range m.jobs {
		snaps[i] = job.Snapshot()
	}

	return snaps
}

// GetJobStatuses projects every job to its status DTO.
func (m *Manager) GetJobStatuses() []StatusDTO {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]StatusDTO, len(m.jobs))
	for i, job := range m.jobs {
		snap := job.Snapshot()
		statuses[i] = StatusDTO{
			Index:    i,
			Name:     snap.Name,
			State:    snap.State.String(),
			Progress: snap.Progress,
		}
	}

	return statuses
}

// AddBackupJob validates and registers a job. Nothing is mutated on error.
func (m *Manager) AddBackupJob(name, source, target string, jobType config.JobType) error {
	if err := m.addJob(name, source, target, jobType); err != nil {
		return errors.Trace(err)
	}

	m.persist()

	return nil
}

func (m *Manager) addJob(name, source, target string, jobType config.JobType) error {
	name = strings.TrimSpace(name)

	if err := m.checkCapacity(name, -1); err != nil {
		return errors.Trace(err)
	}

	job, err := m.buildJob(name, source, target, jobType)
	if err != nil {
		return errors.Trace(err)
	}

	m.mu.Lock()

	// Re-checked: validation ran unlocked and may have raced another add.
	if err := m.checkCapacityLocked(name, -1); err != nil {
		m.mu.Unlock()
		return errors.Trace(err)
	}

	m.jobs = append(m.jobs, job)
	m.mu.Unlock()

	logger.Infof("added %s job %q: %s -> %s", jobType, name, source, target)
	job.emit(ActionCreate, nil, nil, "")

	return nil
}

func (m *Manager) checkCapacity(name string, replacing int) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.checkCapacityLocked(name, replacing)
}

// checkCapacityLocked rejects a full registry and duplicate names. replacing
// is the index of a job being updated, or -1.
func (m *Manager) checkCapacityLocked(name string, replacing int) error {
	if replacing < 0 && len(m.jobs) >= m.maxJobs {
		return errors.QuotaLimitExceededf("registry holds %d jobs, %q", m.maxJobs, name)
	}

	if other := m.indexOfLocked(name); other >= 0 && other != replacing {
		return errors.AlreadyExistsf("job %q", name)
	}

	return nil
}

// RemoveBackupJob removes the job at index, compacting the registry.
func (m *Manager) RemoveBackupJob(index int) error {
	m.mu.Lock()

	job, err := m.jobAtLocked(index)
	if err != nil {
		m.mu.Unlock()
		return errors.Trace(err)
	}

	if _, running := m.running[job]; running {
		m.mu.Unlock()
		return errors.Errorf("job %q is running", job.Name())
	}

	m.jobs = append(m.jobs[:index:index], m.jobs[index+1:]...)
	m.mu.Unlock()

	logger.Infof("removed job %q", job.Name())
	job.emit(ActionRemove, nil, nil, "")
	m.persist()

	return nil
}

// UpdateBackupJob replaces the job at index with a freshly validated one.
func (m *Manager) UpdateBackupJob(index int, name, source, target string, jobType config.JobType) error {
	name = strings.TrimSpace(name)

	if err := m.checkCapacity(name, index); err != nil {
		return errors.Trace(err)
	}

	job, err := m.buildJob(name, source, target, jobType)
	if err != nil {
		return errors.Trace(err)
	}

	m.mu.Lock()

	old, err := m.jobAtLocked(index)
	if err == nil {
		err = m.checkCapacityLocked(name, index)
	}

	if err == nil {
		if _, running := m.running[old]; running {
			err = errors.Errorf("job %q is running", old.Name())
		}
	}

	if err != nil {
		m.mu.Unlock()
		return errors.Trace(err)
	}

	m.jobs[index] = job
	m.mu.Unlock()

	logger.Infof("updated job %d: %q -> %q", index, old.Name(), name)
	old.emit(ActionRemove, nil, nil, "replaced")
	job.emit(ActionCreate, nil, nil, "")
	m.persist()

	return nil
}

// buildJob validates the locations and wires a new job.
func (m *Manager) buildJob(name, source, target string, jobType config.JobType) (*Job, error) {
	if name == "" {
		return nil, errors.NotValidf("empty job name")
	}

	strategy, err := NewStrategy(jobType, m.deps)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := m.checkLocations(source, target); err != nil {
		return nil, errors.Trace(err)
	}

	job := NewJob(name, source, target, jobType, strategy, m.clock)
	job.Attach(ObserverFunc(m.observers.notify))

	return job, nil
}

// checkLocations requires an existing source directory and a target that
// exists or can be created.
func (m *Manager) checkLocations(source, target string) error {
	srcFS, srcRoot, srcCloser, err := m.deps.Open(source)
	if err != nil {
		return errors.NewNotFound(err, fmt.Sprintf("source %s", source))
	}
	defer srcCloser()

	info, err := srcFS.Stat(srcRoot)
	if err != nil {
		return errors.NotFoundf("source %s", source)
	}

	if !info.IsDir() {
		return errors.NotValidf("source %s (not a directory)", source)
	}

	dstFS, dstRoot, dstCloser, err := m.deps.Open(target)
	if err != nil {
		return errors.NewNotValid(err, fmt.Sprintf("target %s", target))
	}
	defer dstCloser()

	if err := dstFS.MkdirAll(dstRoot, fileops.DefaultDirPermissions); err != nil {
		return errors.NewNotValid(err, fmt.Sprintf("target %s cannot be created", target))
	}

	return nil
}

// Load replays AddBackupJob for every persisted entry. Entries that fail
// validation are logged and skipped; the document is not rewritten.
func (m *Manager) Load(doc *config.Document) {
	for _, entry := range doc.BackupJobs {
		if err := m.addJob(entry.Name, entry.SourcePath, entry.TargetPath, entry.Type); err != nil {
			logger.Warningf("skipping persisted job %q: %v", entry.Name, err)
		}
	}
}

// Entries returns the registry in its persisted form.
func (m *Manager) Entries() []config.JobEntry {
	snaps := m.Jobs()

	entries := make([]config.JobEntry, len(snaps))
	for i, snap := range snaps {
		jobType, _ := config.ParseJobType(snap.Type)
		entries[i] = config.JobEntry{
			Name:         snap.Name,
			SourcePath:   snap.SourcePath,
			TargetPath:   snap.TargetPath,
			Type:         jobType,
			State:        snap.State.String(),
			TotalFiles:   snap.TotalFiles,
			TotalSize:    snap.TotalSize,
			Progression:  snap.Progress,
			LastFileTime: snap.LastFileDurationMs,
		}
	}

	return entries
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}

	if err := m.store.SaveJobs(m.Entries()); err != nil {
		logger.Errorf("saving registry: %v", err)
	}
}

// Batch tracks jobs launched by ExecuteJobsAsync.
type Batch struct {
	launched Result
	done     chan struct{}

	mu      sync.Mutex
	results []JobResult
}

// Launched returns the immediate per-index launch report.
func (b *Batch) Launched() Result {
	return b.launched
}

// Done is closed when every launched job has finished.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until every launched job has finished and returns the
// aggregate outcome, including indices that were never launched.
func (b *Batch) Wait() Result {
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()

	return aggregate("succeeded", b.results)
}

func (b *Batch) record(slot int, result JobResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.results[slot] = result
}

// ExecuteJobsAsync runs each selected job on its own goroutine. Invalid or
// already running indices are reported per index without affecting the rest.
func (m *Manager) ExecuteJobsAsync(ctx context.Context, indices []int) *Batch {
	batch := &Batch{
		done:    make(chan struct{}),
		results: make([]JobResult, len(indices)),
	}

	launched := make([]JobResult, len(indices))

	var workers sync.WaitGroup

	m.mu.Lock()

	for slot, index := range indices {
		job, err := m.jobAtLocked(index)
		if err != nil {
			launched[slot] = JobResult{Index: index, Message: err.Error()}
			batch.results[slot] = launched[slot]

			continue
		}

		if _, running := m.running[job]; running {
			launched[slot] = JobResult{Index: index, Name: job.Name(), Message: fmt.Sprintf("job %q is already running", job.Name())}
			batch.results[slot] = launched[slot]

			continue
		}

		runCtx, cancel := context.WithCancel(ctx)
		m.running[job] = cancel
		launched[slot] = JobResult{Index: index, Name: job.Name(), Success: true, Message: fmt.Sprintf("job %q started", job.Name())}

		workers.Add(1)
		m.wg.Add(1)

		go func(slot, index int, job *Job) {
			defer m.wg.Done()
			defer workers.Done()

			batch.record(slot, m.runJob(runCtx, index, job))
		}(slot, index, job)
	}

	m.mu.Unlock()

	batch.launched = aggregate("started", launched)

	go func() {
		workers.Wait()
		close(batch.done)
	}()

	return batch
}

// ExecuteJobs runs the selected jobs concurrently and waits for them.
func (m *Manager) ExecuteJobs(ctx context.Context, indices []int) Result {
	return m.ExecuteJobsAsync(ctx, indices).Wait()
}

// runJob is the execution boundary: a panic inside the job is recovered and
// reported as a failed run.
func (m *Manager) runJob(ctx context.Context, index int, job *Job) (result JobResult) {
	result = JobResult{Index: index, Name: job.Name()}

	defer func() {
		m.mu.Lock()
		if cancel, ok := m.running[job]; ok {
			cancel()
			delete(m.running, job)
		}
		m.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("job %q panicked: %v\n%s", job.Name(), r, debug.Stack())
			job.Fail(errors.Errorf("panic: %v", r))

			result.Success = false
			result.Message = fmt.Sprintf("job %q failed: %v", job.Name(), r)
		}
	}()

	ok := job.Execute(ctx)

	switch {
	case ok:
		result.Success = true
		result.Message = fmt.Sprintf("job %q completed", job.Name())
	case ctx.Err() != nil:
		result.Message = fmt.Sprintf("job %q was stopped", job.Name())
	default:
		result.Message = fmt.Sprintf("job %q failed", job.Name())
	}

	return result
}

// PauseBackupJobs pauses the selected jobs; an empty selection pauses
// every active job.
func (m *Manager) PauseBackupJobs(indices []int, reason string) Result {
	return m.control(indices, Active, "paused", func(job *Job) bool {
		return job.Pause(reason)
	})
}

// ResumeBackupJobs resumes the selected jobs; an empty selection resumes
// every paused job.
func (m *Manager) ResumeBackupJobs(indices []int) Result {
	return m.control(indices, Paused, "resumed", func(job *Job) bool {
		return job.Resume()
	})
}

func (m *Manager) control(indices []int, from State, verb string, apply func(*Job) bool) Result {
	m.mu.RLock()

	type target struct {
		index int
		job   *Job
		err   error
	}

	targets := make([]target, 0)

	if len(indices) == 0 {
		for i, job := range m.jobs {
			if job.State() == from {
				targets = append(targets, target{index: i, job: job})
			}
		}
	} else {
		for _, index := range indices {
			job, err := m.jobAtLocked(index)
			targets = append(targets, target{index: index, job: job, err: err})
		}
	}

	m.mu.RUnlock()

	if len(indices) == 0 && len(targets) == 0 {
		return Result{Success: true, Message: fmt.Sprintf("no %s jobs", strings.ToLower(from.String()))}
	}

	results := make([]JobResult, len(targets))

	for i, t := range targets {
		switch {
		case t.err != nil:
			results[i] = JobResult{Index: t.index, Message: t.err.Error()}
		case apply(t.job):
			results[i] = JobResult{Index: t.index, Name: t.job.Name(), Success: true,
				Message: fmt.Sprintf("job %q %s", t.job.Name(), verb)}
		default:
			results[i] = JobResult{Index: t.index, Name: t.job.Name(),
				Message: fmt.Sprintf("job %q is %s, not %s", t.job.Name(), t.job.State(), from)}
		}
	}

	return aggregate(verb, results)
}

// IsJobPaused reports whether the job at index is paused.
func (m *Manager) IsJobPaused(index int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, err := m.jobAtLocked(index)

	return err == nil && job.IsPaused()
}

// KillBackupJob cancels the running worker of the job at index. It returns
// true only when a running worker was found and signalled; the worker stops
// at its next checkpoint.
func (m *Manager) KillBackupJob(index int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, err := m.jobAtLocked(index)
	if err != nil {
		return false
	}

	cancel, running := m.running[job]
	if !running {
		return false
	}

	logger.Infof("killing job %q", job.Name())
	cancel()

	return true
}

// Shutdown kills every running job and waits for the workers or ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for jobs to stop")
	}
}

func (m *Manager) jobAtLocked(index int) (*Job, error) {
	if index < 0 || index >= len(m.jobs) {
		return nil, errors.NotFoundf("job index %d", index)
	}

	return m.jobs[index], nil
}

func (m *Manager) indexOfLocked(name string) int {
	for i, job := range m.jobs {
		if strings.EqualFold(job.Name(), name) {
			return i
		}
	}

	return -1
}
