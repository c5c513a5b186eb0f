package backup

import (
	"path"
	"strings"

	"github.com/juju/errors"

	"github.com/joe/multisave/pkg/filesystem"
)

// Entry is one scanned file or directory.
type Entry struct {
	// Key is the relative path with forward slashes, comparable across
	// filesystems.
	Key  string
	Path string
	Size int64
}

// Tree is the result of scanning one root.
type Tree struct {
	Files      map[string]Entry
	Dirs       map[string]Entry
	TotalFiles int
	TotalSize  int64
}

// ScanTree enumerates every file and directory below root that filter
// includes; a nil filter includes everything. A missing or unreadable root
// is an error.
func ScanTree(fs filesystem.FileSystem, root string, filter FileFilter) (Tree, error) {
	if filter == nil {
		filter = includeAll{}
	}

	tree := Tree{
		Files: make(map[string]Entry),
		Dirs:  make(map[string]Entry),
	}

	scanner := fs.Scan(root)
	for info, ok := scanner.Next(); ok; info, ok = scanner.Next() {
		key := entryKey(info.RelativePath)
		if !filter.ShouldInclude(key) {
			continue
		}

		entry := Entry{
			Key:  key,
			Path: fs.Join(root, info.RelativePath),
			Size: info.Size,
		}

		if info.IsDir {
			tree.Dirs[key] = entry
			continue
		}

		tree.Files[key] = entry
		tree.TotalFiles++
		tree.TotalSize += info.Size
	}

	if err := scanner.Err(); err != nil {
		return Tree{}, errors.Annotatef(err, "scanning %s", root)
	}

	return tree, nil
}

// SortedKeys returns the file keys in lexical order.
func (t Tree) SortedKeys() []string {
	return sortedKeys(t.Files)
}

func entryKey(relative string) string {
	return path.Clean(strings.ReplaceAll(relative, `\`, "/"))
}

// targetPath maps a key below root on fs.
func targetPath(fs filesystem.FileSystem, root, key string) string {
	return fs.Join(append([]string{root}, strings.Split(key, "/")...)...)
}

func keyDepth(key string) int {
	return strings.Count(key, "/")
}
