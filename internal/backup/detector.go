package backup

import (
	"github.com/juju/errors"

	"github.com/joe/multisave/pkg/fileops"
)

// ChangeDetector decides whether a source file must be copied over its
// previous target copy. Modification times are not trusted: equal sizes
// still require equal SHA-256 digests.
type ChangeDetector struct {
	ops *fileops.FileOps
}

// NewChangeDetector creates a detector hashing through ops.
func NewChangeDetector(ops *fileops.FileOps) *ChangeDetector {
	return &ChangeDetector{ops: ops}
}

// NeedsCopy returns true when the target is absent, its size differs or its
// content hash differs. A target that cannot be hashed needs a copy; a
// source that cannot be hashed is an error.
func (d *ChangeDetector) NeedsCopy(src, dst Entry, dstExists bool) (bool, error) {
	if !dstExists || src.Size != dst.Size {
		return true, nil
	}

	srcHash, err := d.ops.ComputeSourceHash(src.Path)
	if err != nil {
		return false, errors.Trace(err)
	}

	dstHash, err := d.ops.ComputeDestHash(dst.Path)
	if err != nil {
		logger.Debugf("hashing %s failed, recopying: %v", dst.Path, err)
		return true, nil
	}

	return srcHash != dstHash, nil
}
