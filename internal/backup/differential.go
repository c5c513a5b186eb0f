package backup

import (
	"context"
	"sort"
)

// DifferentialStrategy copies new and changed files, then prunes target
// files and directories that no longer exist in the source.
type DifferentialStrategy struct {
	deps Deps
}

// Execute implements Strategy.
func (s *DifferentialStrategy) Execute(ctx context.Context, job *Job) bool {
	r, err := openRun(s.deps, job)
	if err != nil {
		job.setRunError(err)
		return false
	}
	defer r.close()

	source, err := ScanTree(r.srcFS, r.srcRoot, r.deps.Filter)
	if err != nil {
		job.setRunError(err)
		return false
	}

	target, err := ScanTree(r.dstFS, r.dstRoot, r.deps.Filter)
	if err != nil {
		job.setRunError(err)
		return false
	}

	job.setTotals(source.TotalFiles, source.TotalSize)
	r.registerPriority(source)

	logger.Infof("%s: differential backup of %d files from %s to %s (%d files at target)",
		job.Name(), source.TotalFiles, job.SourcePath(), job.TargetPath(), target.TotalFiles)

	detector := NewChangeDetector(r.ops)

	for _, key := range r.order(source) {
		if err := job.Checkpoint(ctx); err != nil {
			logger.Infof("%s: stopped before %s", job.Name(), key)
			return false
		}

		entry := source.Files[key]
		existing, exists := target.Files[key]

		needsCopy, err := detector.NeedsCopy(entry, existing, exists)
		if err != nil {
			r.settle(entry.Path)
			r.failed++
			r.job.fileDone(ActionProcessing, &FileRecord{
				SourcePath:     entry.Path,
				TargetPath:     targetPath(r.dstFS, r.dstRoot, key),
				RelativePath:   key,
				Size:           entry.Size,
				TransferTimeMs: -1,
			}, r.enricher.Enrich(err, entry.Path))

			continue
		}

		if !needsCopy {
			r.settle(entry.Path)
			r.skipped++
			job.fileDone(ActionProgress, &FileRecord{
				SourcePath:   entry.Path,
				TargetPath:   existing.Path,
				RelativePath: key,
				Size:         entry.Size,
			}, nil)

			continue
		}

		r.copyOne(ctx, entry)
		r.settle(entry.Path)
	}

	if err := job.Checkpoint(ctx); err != nil {
		return false
	}

	r.prune(source, target)

	return r.result()
}

// prune deletes target files without a source counterpart, then removes
// directories left empty, deepest first. The target root is never removed.
func (r *run) prune(source, target Tree) {
	for _, key := range target.SortedKeys() {
		if _, ok := source.Files[key]; ok {
			continue
		}

		stale := target.Files[key]
		record := &FileRecord{TargetPath: stale.Path, RelativePath: key, Size: stale.Size}

		err := r.ops.RemoveFromDest(stale.Path)
		if err != nil {
			err = r.enricher.Enrich(err, stale.Path)
			logger.Warningf("%s: pruning %s failed: %v", r.job.Name(), key, err)
		} else {
			logger.Debugf("%s: pruned %s", r.job.Name(), key)
		}

		r.job.emit(ActionDelete, record, err, "")
	}

	dirs := make([]Entry, 0)
	for key, dir := range target.Dirs {
		if _, ok := source.Dirs[key]; !ok {
			dirs = append(dirs, dir)
		}
	}

	sort.Slice(dirs, func(a, b int) bool {
		if da, db := keyDepth(dirs[a].Key), keyDepth(dirs[b].Key); da != db {
			return da > db
		}

		return dirs[a].Key < dirs[b].Key
	})

	for _, dir := range dirs {
		empty, err := r.ops.DestDirEmpty(dir.Path)
		if err != nil || !empty {
			continue
		}

		record := &FileRecord{TargetPath: dir.Path, RelativePath: dir.Key}

		err = r.ops.RemoveFromDest(dir.Path)
		if err != nil {
			err = r.enricher.Enrich(err, dir.Path)
			logger.Warningf("%s: removing directory %s failed: %v", r.job.Name(), dir.Key, err)
		}

		r.job.emit(ActionDeleteDir, record, err, "")
	}

	r.job.emit(ActionCleanComplete, nil, nil, "")
}
