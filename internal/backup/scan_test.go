package backup_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/joe/multisave/internal/backup"
	"github.com/joe/multisave/pkg/fileops"
	"github.com/joe/multisave/pkg/filesystem"
)

func TestScanTreeOnDisk(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	g.Expect(os.MkdirAll(filepath.Join(root, "a", "b"), 0o755)).Should(Succeed())
	g.Expect(os.WriteFile(filepath.Join(root, "a", "b", "c.txt"), []byte("ccc"), 0o600)).Should(Succeed())
	g.Expect(os.WriteFile(filepath.Join(root, "top.txt"), []byte("t"), 0o600)).Should(Succeed())

	tree, err := backup.ScanTree(filesystem.NewRealFileSystem(), root, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(tree.TotalFiles).Should(Equal(2))
	g.Expect(tree.TotalSize).Should(Equal(int64(4)))
	g.Expect(tree.SortedKeys()).Should(Equal([]string{"a/b/c.txt", "top.txt"}))
	g.Expect(tree.Dirs).Should(HaveKey("a/b"))
	g.Expect(tree.Files["a/b/c.txt"].Path).Should(Equal(filepath.Join(root, "a", "b", "c.txt")))
}

func TestScanTreeMissingRoot(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, err := backup.ScanTree(filesystem.NewMockFileSystem(), "/missing", nil)
	g.Expect(err).Should(HaveOccurred())
}

func TestChangeDetector(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	src := filesystem.NewMockFileSystem()
	dst := filesystem.NewMockFileSystem()
	src.AddFile("/s/same", []byte("abc"))
	dst.AddFile("/d/same", []byte("abc"))
	src.AddFile("/s/diff", []byte("abc"))
	dst.AddFile("/d/diff", []byte("abd"))

	detector := backup.NewChangeDetector(fileops.New(src, dst))

	entry := func(p string, size int64) backup.Entry { return backup.Entry{Path: p, Size: size} }

	needs, err := detector.NeedsCopy(entry("/s/same", 3), entry("/d/same", 3), true)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(needs).Should(BeFalse())

	needs, err = detector.NeedsCopy(entry("/s/diff", 3), entry("/d/diff", 3), true)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(needs).Should(BeTrue())

	needs, err = detector.NeedsCopy(entry("/s/same", 3), backup.Entry{}, false)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(needs).Should(BeTrue())

	needs, err = detector.NeedsCopy(entry("/s/same", 3), entry("/d/same", 4), true)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(needs).Should(BeTrue(), "size mismatch short-circuits")

	dst.FailOn("/d/same", errors.New("input/output error"))
	needs, err = detector.NeedsCopy(entry("/s/same", 3), entry("/d/same", 3), true)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(needs).Should(BeTrue(), "unreadable target is recopied")

	src.FailOn("/s/same", errors.New("permission denied"))
	_, err = detector.NeedsCopy(entry("/s/same", 3), entry("/d/same", 3), true)
	g.Expect(err).Should(HaveOccurred())
}
