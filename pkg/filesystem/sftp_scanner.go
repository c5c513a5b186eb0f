package filesystem

import (
	"fmt"
	"path"
	"strings"

	"github.com/pkg/sftp"
)

// newSFTPScanner creates a scanner over a remote directory tree.
func newSFTPScanner(client *sftp.Client, root string) FileScanner {
	return newSliceScanner(func() ([]FileInfo, error) {
		return walkSFTP(client, root)
	})
}

func walkSFTP(client *sftp.Client, root string) ([]FileInfo, error) {
	files := make([]FileInfo, 0)
	walker := client.Walk(root)

	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("error scanning SFTP directory %s: %w", root, err)
		}

		fullPath := walker.Path()
		if path.Clean(fullPath) == path.Clean(root) {
			continue
		}

		relPath, err := relativePath(root, fullPath)
		if err != nil {
			return nil, err
		}

		stat := walker.Stat()
		files = append(files, FileInfo{
			RelativePath: relPath,
			Size:         stat.Size(),
			ModTime:      stat.ModTime(),
			IsDir:        stat.IsDir(),
		})
	}

	return files, nil
}

// relativePath computes the relative path from root to target using
// forward slashes, since SFTP paths never use the OS separator.
func relativePath(root, target string) (string, error) {
	root = path.Clean(root)
	target = path.Clean(target)

	prefix := root
	if prefix != "/" {
		prefix += "/"
	}

	if root == "." {
		return target, nil
	}

	if !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("target %s is not under root %s", target, root) //nolint:err113 // Path validation error with actual paths
	}

	return strings.TrimPrefix(target, prefix), nil
}
