package backup_test

import (
	"context"
	"sync"
	"time"

	"github.com/joe/multisave/internal/backup"
	"github.com/joe/multisave/internal/config"
	"github.com/joe/multisave/internal/coordinator"
	"github.com/joe/multisave/pkg/filesystem"
)

// mockOpener serves every location from fs, using the location as root.
func mockOpener(fs *filesystem.MockFileSystem) backup.Opener {
	return func(location string) (filesystem.FileSystem, string, func(), error) {
		return fs, location, func() {}, nil
	}
}

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []backup.Event
}

func (r *recorder) Update(event backup.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) actions() []backup.Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	actions := make([]backup.Action, len(r.events))
	for i, event := range r.events {
		actions[i] = event.Action
	}

	return actions
}

func (r *recorder) count(action backup.Action) int {
	n := 0
	for _, a := range r.actions() {
		if a == action {
			n++
		}
	}

	return n
}

func (r *recorder) withAction(action backup.Action) []backup.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []backup.Event
	for _, event := range r.events {
		if event.Action == action {
			out = append(out, event)
		}
	}

	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}

// newJob wires a job over fs with its own coordinator.
func newJob(fs *filesystem.MockFileSystem, jobType config.JobType, coord *coordinator.Coordinator) (*backup.Job, *recorder) {
	if coord == nil {
		coord = coordinator.New(nil, config.DefaultMaxParallelKB)
	}

	strategy, err := backup.NewStrategy(jobType, backup.Deps{Coordinator: coord, Open: mockOpener(fs)})
	if err != nil {
		panic(err)
	}

	job := backup.NewJob("docs", "/src", "/dst", jobType, strategy, nil)
	rec := &recorder{}
	job.Attach(rec)

	return job, rec
}

// stubEncryptor encrypts everything by sleeping briefly; panicOn makes
// ShouldEncrypt panic for one path.
type stubEncryptor struct {
	panicOn string
}

func (s stubEncryptor) ShouldEncrypt(path string) bool {
	if s.panicOn != "" && path == s.panicOn {
		panic("encryptor exploded")
	}

	return true
}

func (s stubEncryptor) Encrypt(context.Context, string) (time.Duration, error) {
	return 3 * time.Millisecond, nil
}

// memoryStore records registry saves.
type memoryStore struct {
	mu    sync.Mutex
	saves [][]config.JobEntry
}

func (s *memoryStore) SaveJobs(jobs []config.JobEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves = append(s.saves, jobs)

	return nil
}

func (s *memoryStore) last() []config.JobEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.saves) == 0 {
		return nil
	}

	return s.saves[len(s.saves)-1]
}
