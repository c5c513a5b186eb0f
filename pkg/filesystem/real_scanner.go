package filesystem

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// newRealFileScanner creates a scanner over a local directory tree.
func newRealFileScanner(root string) FileScanner {
	return newSliceScanner(func() ([]FileInfo, error) {
		return walkLocal(root)
	})
}

// walkLocal walks the directory tree and collects every entry below root.
// A missing or unreadable root is reported as an error.
func walkLocal(root string) ([]FileInfo, error) {
	files := make([]FileInfo, 0)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if relPath == "." {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		files = append(files, FileInfo{
			RelativePath: relPath,
			Size:         info.Size(),
			ModTime:      info.ModTime(),
			IsDir:        entry.IsDir(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	return files, nil
}
