package backup

import (
	"context"
)

// FullStrategy copies every source file unconditionally.
type FullStrategy struct {
	deps Deps
}

// Execute implements Strategy.
func (s *FullStrategy) Execute(ctx context.Context, job *Job) bool {
	r, err := openRun(s.deps, job)
	if err != nil {
		job.setRunError(err)
		return false
	}
	defer r.close()

	tree, err := ScanTree(r.srcFS, r.srcRoot, r.deps.Filter)
	if err != nil {
		job.setRunError(err)
		return false
	}

	job.setTotals(tree.TotalFiles, tree.TotalSize)
	r.registerPriority(tree)

	logger.Infof("%s: full backup of %d files (%d bytes) from %s to %s",
		job.Name(), tree.TotalFiles, tree.TotalSize, job.SourcePath(), job.TargetPath())

	for _, key := range r.order(tree) {
		if err := job.Checkpoint(ctx); err != nil {
			logger.Infof("%s: stopped before %s", job.Name(), key)
			return false
		}

		entry := tree.Files[key]
		r.copyOne(ctx, entry)
		r.settle(entry.Path)
	}

	return r.result()
}
