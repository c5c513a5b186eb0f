package filesystem

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockFileSystem is an in-memory filesystem implementation for testing.
// Paths always use forward slashes.
type MockFileSystem struct {
	mu       sync.RWMutex
	files    map[string]*mockFile
	failures map[string]error
}

type mockFile struct {
	data    []byte
	modTime time.Time
	isDir   bool
	perm    os.FileMode
}

type mockFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
	perm    os.FileMode
}

func (fi *mockFileInfo) Name() string       { return fi.name }
func (fi *mockFileInfo) Size() int64        { return fi.size }
func (fi *mockFileInfo) Mode() os.FileMode  { return fi.perm }
func (fi *mockFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *mockFileInfo) IsDir() bool        { return fi.isDir }
func (fi *mockFileInfo) Sys() any           { return nil }

// mockFileHandle implements File. Written data lands in the filesystem on Close.
type mockFileHandle struct {
	fs     *MockFileSystem
	path   string
	reader *bytes.Reader
	writer *bytes.Buffer
	closed bool
}

func (f *mockFileHandle) Read(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}

	if f.reader == nil {
		return 0, io.EOF
	}

	return f.reader.Read(p)
}

func (f *mockFileHandle) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}

	if f.writer == nil {
		return 0, fmt.Errorf("%s: opened read-only", f.path) //nolint:err113 // Mock-only failure
	}

	return f.writer.Write(p)
}

func (f *mockFileHandle) Close() error {
	if f.closed {
		return os.ErrClosed
	}

	f.closed = true

	if f.writer != nil {
		f.fs.mu.Lock()
		defer f.fs.mu.Unlock()

		f.fs.files[f.path] = &mockFile{
			data:    f.writer.Bytes(),
			modTime: time.Now(),
			perm:    0o644, //nolint:mnd // Default file mode
		}
	}

	return nil
}

func (f *mockFileHandle) Stat() (os.FileInfo, error) {
	if f.closed {
		return nil, os.ErrClosed
	}

	return f.fs.Stat(f.path)
}

// NewMockFileSystem creates a new, empty in-memory filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files:    make(map[string]*mockFile),
		failures: make(map[string]error),
	}
}

// Create creates a file for writing; parent directories are created implicitly.
func (fs *MockFileSystem) Create(p string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.failures[p]; err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", p, err)
	}

	fs.mkdirAllLocked(path.Dir(p))

	fs.files[p] = &mockFile{data: []byte{}, modTime: time.Now(), perm: 0o644} //nolint:mnd // Default file mode

	return &mockFileHandle{fs: fs, path: p, writer: &bytes.Buffer{}}, nil
}

// Join joins path elements with forward slashes.
func (fs *MockFileSystem) Join(elem ...string) string {
	return path.Join(elem...)
}

// MkdirAll creates a directory and all necessary parents.
func (fs *MockFileSystem) MkdirAll(p string, _ os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.failures[p]; err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p, err)
	}

	fs.mkdirAllLocked(p)

	return nil
}

func (fs *MockFileSystem) mkdirAllLocked(p string) {
	if p == "." || p == "/" || p == "" {
		return
	}

	fs.mkdirAllLocked(path.Dir(p))

	if _, exists := fs.files[p]; !exists {
		fs.files[p] = &mockFile{modTime: time.Now(), isDir: true, perm: 0o755} //nolint:mnd // Default dir mode
	}
}

// Open opens a file for reading.
func (fs *MockFileSystem) Open(p string) (File, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if err := fs.failures[p]; err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}

	file, exists := fs.files[p]
	if !exists {
		return nil, fmt.Errorf("failed to open %s: %w", p, os.ErrNotExist)
	}

	if file.isDir {
		return nil, fmt.Errorf("failed to open %s: is a directory", p) //nolint:err113 // Mock-only failure
	}

	return &mockFileHandle{fs: fs, path: p, reader: bytes.NewReader(file.data)}, nil
}

// ReadDir lists the names directly inside p.
func (fs *MockFileSystem) ReadDir(p string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir, exists := fs.files[p]
	if !exists || !dir.isDir {
		return nil, fmt.Errorf("failed to read directory %s: %w", p, os.ErrNotExist)
	}

	names := make([]string, 0)
	for candidate := range fs.files {
		if path.Dir(candidate) == p && candidate != p {
			names = append(names, path.Base(candidate))
		}
	}

	sort.Strings(names)

	return names, nil
}

// Remove removes a file or empty directory.
func (fs *MockFileSystem) Remove(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.failures[p]; err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}

	file, exists := fs.files[p]
	if !exists {
		return fmt.Errorf("failed to remove %s: %w", p, os.ErrNotExist)
	}

	if file.isDir {
		for candidate := range fs.files {
			if strings.HasPrefix(candidate, p+"/") {
				return fmt.Errorf("failed to remove %s: directory not empty", p) //nolint:err113 // Mock-only failure
			}
		}
	}

	delete(fs.files, p)

	return nil
}

// Scan returns an iterator over every entry below root, sorted by path.
// A missing root is reported through Err.
func (fs *MockFileSystem) Scan(root string) FileScanner {
	return newSliceScanner(func() ([]FileInfo, error) {
		fs.mu.RLock()
		defer fs.mu.RUnlock()

		if dir, exists := fs.files[root]; !exists || !dir.isDir {
			return nil, fmt.Errorf("failed to scan %s: %w", root, os.ErrNotExist)
		}

		files := make([]FileInfo, 0)
		for p, file := range fs.files {
			if !strings.HasPrefix(p, root+"/") {
				continue
			}

			files = append(files, FileInfo{
				RelativePath: strings.TrimPrefix(p, root+"/"),
				Size:         int64(len(file.data)),
				ModTime:      file.modTime,
				IsDir:        file.isDir,
			})
		}

		sort.Slice(files, func(i, j int) bool {
			return files[i].RelativePath < files[j].RelativePath
		})

		return files, nil
	})
}

// Stat returns file information.
func (fs *MockFileSystem) Stat(p string) (os.FileInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	file, exists := fs.files[p]
	if !exists {
		return nil, fmt.Errorf("failed to stat %s: %w", p, os.ErrNotExist)
	}

	return &mockFileInfo{
		name:    path.Base(p),
		size:    int64(len(file.data)),
		modTime: file.modTime,
		isDir:   file.isDir,
		perm:    file.perm,
	}, nil
}

// Helper methods for testing

// AddFile adds a file with the given content; parents are created implicitly.
func (fs *MockFileSystem) AddFile(p string, content []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.mkdirAllLocked(path.Dir(p))

	fs.files[p] = &mockFile{
		data:    append([]byte(nil), content...),
		modTime: time.Now(),
		perm:    0o644, //nolint:mnd // Default file mode
	}
}

// AddDir adds a directory and its parents.
func (fs *MockFileSystem) AddDir(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.mkdirAllLocked(p)
}

// FailOn makes every operation on p fail with err until cleared with a nil err.
func (fs *MockFileSystem) FailOn(p string, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err == nil {
		delete(fs.failures, p)
		return
	}

	fs.failures[p] = err
}

// GetFile retrieves a file's content.
func (fs *MockFileSystem) GetFile(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	file, exists := fs.files[p]
	if !exists || file.isDir {
		return nil, os.ErrNotExist
	}

	return append([]byte(nil), file.data...), nil
}

// Exists checks if a path exists.
func (fs *MockFileSystem) Exists(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, exists := fs.files[p]

	return exists
}
