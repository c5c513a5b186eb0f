package backup

import (
	"context"
	"sort"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/joe/multisave/internal/config"
	"github.com/joe/multisave/internal/coordinator"
	pkgerrors "github.com/joe/multisave/pkg/errors"
	"github.com/joe/multisave/pkg/fileops"
	"github.com/joe/multisave/pkg/filesystem"
)

var logger = loggo.GetLogger("multisave.backup")

// Strategy is the per-job backup algorithm. Execute returns false when the
// run could not proceed (source scan failure, unpreparable target, every
// file failing) or was killed.
type Strategy interface {
	Execute(ctx context.Context, job *Job) bool
}

// Encryptor encrypts copied target files.
type Encryptor interface {
	ShouldEncrypt(path string) bool
	Encrypt(ctx context.Context, path string) (time.Duration, error)
}

// Opener resolves a job location into a filesystem and root.
type Opener func(location string) (filesystem.FileSystem, string, func(), error)

// Deps are the collaborators shared by every strategy.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Encryptor   Encryptor
	Open        Opener
	Filter      FileFilter
}

func (d Deps) withDefaults() Deps {
	if d.Coordinator == nil {
		d.Coordinator = coordinator.New(nil, config.DefaultMaxParallelKB)
	}

	if d.Encryptor == nil {
		d.Encryptor = noEncryption{}
	}

	if d.Open == nil {
		d.Open = filesystem.Open
	}

	if d.Filter == nil {
		d.Filter = includeAll{}
	}

	return d
}

// NewStrategy builds the strategy for jobType.
func NewStrategy(jobType config.JobType, deps Deps) (Strategy, error) {
	deps = deps.withDefaults()

	switch jobType {
	case config.Full:
		return &FullStrategy{deps: deps}, nil
	case config.Differential:
		return &DifferentialStrategy{deps: deps}, nil
	default:
		return nil, errors.NotValidf("job type %v", jobType)
	}
}

type noEncryption struct{}

func (noEncryption) ShouldEncrypt(string) bool { return false }

func (noEncryption) Encrypt(context.Context, string) (time.Duration, error) { return 0, nil }

// run holds the state of one strategy execution.
type run struct {
	deps     Deps
	job      *Job
	ops      *fileops.FileOps
	srcFS    filesystem.FileSystem
	dstFS    filesystem.FileSystem
	srcRoot  string
	dstRoot  string
	closer   func()
	enricher pkgerrors.Enricher

	// pending holds source paths registered with the coordinator and not
	// yet admitted.
	pending map[string]bool

	copied  int
	skipped int
	failed  int
}

// openRun opens both filesystems and prepares the target root.
func openRun(deps Deps, job *Job) (*run, error) {
	srcFS, srcRoot, srcCloser, err := deps.Open(job.SourcePath())
	if err != nil {
		return nil, errors.Annotatef(err, "opening source %s", job.SourcePath())
	}

	dstFS, dstRoot, dstCloser, err := deps.Open(job.TargetPath())
	if err != nil {
		srcCloser()
		return nil, errors.Annotatef(err, "opening target %s", job.TargetPath())
	}

	r := &run{
		deps:     deps,
		job:      job,
		ops:      fileops.New(srcFS, dstFS),
		srcFS:    srcFS,
		dstFS:    dstFS,
		srcRoot:  srcRoot,
		dstRoot:  dstRoot,
		enricher: pkgerrors.NewEnricher(),
		pending:  make(map[string]bool),
		closer: func() {
			srcCloser()
			dstCloser()
		},
	}

	if err := dstFS.MkdirAll(dstRoot, fileops.DefaultDirPermissions); err != nil {
		r.close()
		return nil, errors.Annotatef(err, "preparing target %s", dstRoot)
	}

	return r, nil
}

// close unregisters leftover pending priority files and releases the filesystems.
func (r *run) close() {
	for p := range r.pending {
		r.deps.Coordinator.UnregisterPendingPriorityFile(p)
	}

	r.pending = nil
	r.closer()
}

// order returns the source keys sorted with priority files first.
func (r *run) order(tree Tree) []string {
	keys := tree.SortedKeys()

	sort.SliceStable(keys, func(a, b int) bool {
		return r.deps.Coordinator.IsPriority(keys[a]) && !r.deps.Coordinator.IsPriority(keys[b])
	})

	return keys
}

// registerPriority announces every priority file of the run to the coordinator.
func (r *run) registerPriority(tree Tree) {
	for _, entry := range tree.Files {
		if r.deps.Coordinator.IsPriority(entry.Path) {
			r.deps.Coordinator.RegisterPendingPriorityFile(entry.Path)
			r.pending[entry.Path] = true
		}
	}
}

// settle unregisters path if it is still pending, i.e. it was skipped or
// failed before admission.
func (r *run) settle(p string) {
	if r.pending[p] {
		delete(r.pending, p)
		r.deps.Coordinator.UnregisterPendingPriorityFile(p)
	}
}

// copyOne transfers a single file through the coordinator and emits a
// Processing event. Failures are recorded, not returned.
func (r *run) copyOne(ctx context.Context, entry Entry) {
	target := targetPath(r.dstFS, r.dstRoot, entry.Key)
	r.job.setCurrent(entry.Path, target)

	record := &FileRecord{
		SourcePath:   entry.Path,
		TargetPath:   target,
		RelativePath: entry.Key,
		Size:         entry.Size,
	}

	err := r.transfer(ctx, entry, record)
	if err != nil {
		err = r.enricher.Enrich(err, entry.Path)
		record.TransferTimeMs = -1
		r.failed++

		logger.Warningf("%s: copying %s failed: %v", r.job.Name(), entry.Key, err)
	} else {
		r.copied++
	}

	r.job.fileDone(ActionProcessing, record, err)
}

func (r *run) transfer(ctx context.Context, entry Entry, record *FileRecord) error {
	r.deps.Coordinator.RequestTransfer(entry.Path, entry.Size)
	delete(r.pending, entry.Path)

	defer r.deps.Coordinator.ReleaseTransfer(entry.Path)

	// Checkpoints sit between files; an admitted file is copied and
	// encrypted to completion.
	fileCtx := context.WithoutCancel(ctx)

	stats, err := r.ops.CopyFile(fileCtx, entry.Path, record.TargetPath, nil)
	if err != nil {
		return errors.Trace(err)
	}

	record.TransferTimeMs = stats.Elapsed.Milliseconds()

	if r.deps.Encryptor.ShouldEncrypt(record.TargetPath) {
		elapsed, err := r.deps.Encryptor.Encrypt(fileCtx, record.TargetPath)
		if err != nil {
			record.EncryptionTimeMs = -1
			logger.Warningf("%s: encrypting %s failed: %v", r.job.Name(), record.TargetPath, err)
		} else {
			record.EncryptionTimeMs = elapsed.Milliseconds()
		}
	}

	return nil
}

// result applies the all-failed policy: a run fails when it had files and
// every one of them failed. Unchanged files count as handled.
func (r *run) result() bool {
	if r.failed > 0 && r.copied == 0 && r.skipped == 0 {
		r.job.setRunError(errors.Errorf("all %d file copies failed", r.failed))
		return false
	}

	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
