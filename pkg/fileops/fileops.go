// Package fileops provides file operations for copying, hashing and pruning
// across a source and a destination filesystem.
package fileops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joe/multisave/pkg/filesystem"
)

// Exported constants.
const (
	// BufferSize is the size of the buffer used for file copy operations (32KB)
	BufferSize = 32 * 1024
	// DefaultDirPermissions is the default permission mode for created directories
	DefaultDirPermissions = 0o750
)

// Exported variables.
var (
	ErrCopyCancelled = errors.New("copy cancelled")
)

// CopyStats contains timing information about a copy operation
type CopyStats struct {
	BytesCopied int64
	ReadTime    time.Duration
	WriteTime   time.Duration
	Elapsed     time.Duration
}

// ProgressCallback is called during file operations to report progress
type ProgressCallback func(bytesTransferred int64, totalBytes int64, currentFile string)

// FileOps provides file operations over a source and a destination filesystem,
// which may differ (e.g. local to SFTP).
type FileOps struct {
	SourceFS filesystem.FileSystem
	DestFS   filesystem.FileSystem
}

// New creates a FileOps copying from sourceFS to destFS.
func New(sourceFS, destFS filesystem.FileSystem) *FileOps {
	return &FileOps{SourceFS: sourceFS, DestFS: destFS}
}

// ComputeSourceHash computes the SHA-256 of a source file as lowercase hex.
func (fo *FileOps) ComputeSourceHash(filePath string) (string, error) {
	return computeHash(fo.SourceFS, filePath)
}

// ComputeDestHash computes the SHA-256 of a destination file as lowercase hex.
func (fo *FileOps) ComputeDestHash(filePath string) (string, error) {
	return computeHash(fo.DestFS, filePath)
}

// CopyFile copies src to dst, creating missing destination directories and
// overwriting any existing file. A cancelled or failed copy removes the
// partial destination file.
func (fo *FileOps) CopyFile(ctx context.Context, src, dst string, progress ProgressCallback) (*CopyStats, error) {
	stats := &CopyStats{}
	started := time.Now()

	defer func() {
		stats.Elapsed = time.Since(started)
	}()

	sourceFile, err := fo.SourceFS.Open(src)
	if err != nil {
		return stats, fmt.Errorf("failed to open source file %s: %w", src, err)
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	dstDir := parentDir(dst)

	err = fo.DestFS.MkdirAll(dstDir, DefaultDirPermissions)
	if err != nil {
		return stats, fmt.Errorf("failed to create destination directory %s: %w", dstDir, err)
	}

	destFile, err := fo.DestFS.Create(dst)
	if err != nil {
		return stats, fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}

	copyCompleted := false
	closed := false

	defer func() {
		if !closed {
			_ = destFile.Close()
		}

		if !copyCompleted {
			_ = fo.DestFS.Remove(dst)
		}
	}()

	written, err := copyLoop(ctx, sourceFile, destFile, stats, sourceInfo.Size(), src, progress)
	if err != nil {
		return stats, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	stats.BytesCopied = written

	// Close before reporting success so buffered remote writes are flushed.
	closed = true

	err = destFile.Close()
	if err != nil {
		return stats, fmt.Errorf("failed to close destination file %s: %w", dst, err)
	}

	copyCompleted = true

	return stats, nil
}

// DestDirEmpty reports whether a destination directory has no entries.
func (fo *FileOps) DestDirEmpty(dir string) (bool, error) {
	names, err := fo.DestFS.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	return len(names) == 0, nil
}

// RemoveFromDest removes a file or empty directory from the destination filesystem.
func (fo *FileOps) RemoveFromDest(p string) error {
	err := fo.DestFS.Remove(p)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}

	return nil
}

// checkCancellation checks if the copy operation has been cancelled.
func checkCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCopyCancelled
	default:
		return nil
	}
}

func computeHash(fs filesystem.FileSystem, filePath string) (string, error) {
	file, err := fs.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()

	_, err = io.Copy(hash, file)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s for hashing: %w", filePath, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// copyLoop performs the actual file copy with progress tracking and timing.
//
//nolint:lll // Long function signature with many parameters
func copyLoop(ctx context.Context, sourceFile, destFile filesystem.File, stats *CopyStats, sourceSize int64, srcPath string, progress ProgressCallback) (int64, error) {
	var written int64

	buf := make([]byte, BufferSize)

	for {
		err := checkCancellation(ctx)
		if err != nil {
			return written, err
		}

		readStart := time.Now()
		nr, err := sourceFile.Read(buf) //nolint:varnamelen // nr is idiomatic for bytes read
		stats.ReadTime += time.Since(readStart)

		if nr > 0 {
			writeStart := time.Now()
			nw, werr := destFile.Write(buf[0:nr]) //nolint:varnamelen // nw is idiomatic for bytes written
			stats.WriteTime += time.Since(writeStart)

			if werr != nil {
				return written, fmt.Errorf("failed to write to destination: %w", werr)
			}

			if nr != nw {
				return written, fmt.Errorf("short write: %w", io.ErrShortWrite)
			}

			written += int64(nw)

			if progress != nil {
				progress(written, sourceSize, srcPath)
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return written, fmt.Errorf("failed to read from source: %w", err)
		}
	}

	return written, nil
}

// parentDir returns the directory of p, accepting either separator.
func parentDir(p string) string {
	idx := strings.LastIndexAny(p, `\/`)

	switch {
	case idx < 0:
		return "."
	case idx == 0:
		return p[:1]
	default:
		return p[:idx]
	}
}
