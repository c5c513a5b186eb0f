package filesystem

import (
	"fmt"
)

// Open resolves a location string into the FileSystem serving it.
// Returns (filesystem, root, closer, error); root is the path to use with
// the filesystem and closer is never nil.
func Open(location string) (FileSystem, string, func(), error) {
	parsed, err := ParseLocation(location)
	if err != nil {
		return nil, "", nil, err
	}

	if !parsed.IsRemote {
		return NewRealFileSystem(), parsed.LocalPath, func() {}, nil
	}

	conn, err := Connect(parsed.Host, parsed.Port, parsed.User)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to connect to %s@%s:%d: %w",
			parsed.User, parsed.Host, parsed.Port, err)
	}

	closer := func() {
		_ = conn.Close()
	}

	return NewSFTPFileSystem(conn), parsed.Path, closer, nil
}
