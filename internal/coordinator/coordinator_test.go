package coordinator_test

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/joe/multisave/internal/coordinator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// requestAsync runs RequestTransfer on its own goroutine and closes the
// returned channel once admitted.
func requestAsync(c *coordinator.Coordinator, path string, size int64) <-chan struct{} {
	admitted := make(chan struct{})

	go func() {
		c.RequestTransfer(path, size)
		close(admitted)
	}()

	return admitted
}

func TestClassification(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New([]string{"DOCX", ".Pdf", " "}, 1)

	g.Expect(c.IsPriority("/a/report.docx")).Should(BeTrue())
	g.Expect(c.IsPriority("/a/REPORT.PDF")).Should(BeTrue())
	g.Expect(c.IsPriority("/a/notes.txt")).Should(BeFalse())
	g.Expect(c.IsPriority("/a/noext")).Should(BeFalse())
	g.Expect(c.IsLarge(1024)).Should(BeFalse())
	g.Expect(c.IsLarge(1025)).Should(BeTrue())
}

func TestSmallNonPriorityTransfersAreUnlimited(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New(nil, 1)

	for _, path := range []string{"a", "b", "c", "d"} {
		c.RequestTransfer(path, 10)
	}

	for _, path := range []string{"a", "b", "c", "d"} {
		c.ReleaseTransfer(path)
	}

	g.Expect(c.Stats()).Should(Equal(coordinator.Stats{}))
}

func TestPriorityPreemption(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New([]string{".docx"}, 1024)
	c.RegisterPendingPriorityFile("/src/report.docx")

	txt := requestAsync(c, "/src/notes.txt", 10)
	g.Consistently(txt, 100*time.Millisecond).ShouldNot(BeClosed())
	g.Eventually(func() int { return c.Stats().Waiting }).Should(Equal(1))

	c.RequestTransfer("/src/report.docx", 10)
	g.Eventually(txt).Should(BeClosed())
	g.Expect(c.Stats().TransferringPriority).Should(Equal(1))

	c.ReleaseTransfer("/src/report.docx")
	c.ReleaseTransfer("/src/notes.txt")
	g.Expect(c.Stats()).Should(Equal(coordinator.Stats{}))
}

func TestUnregisterPendingUnblocksWaiters(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New([]string{".docx"}, 1024)
	c.RegisterPendingPriorityFile("/killed/job.docx")

	txt := requestAsync(c, "/other/notes.txt", 10)
	g.Consistently(txt, 50*time.Millisecond).ShouldNot(BeClosed())

	c.UnregisterPendingPriorityFile("/killed/job.docx")
	g.Eventually(txt).Should(BeClosed())
	c.ReleaseTransfer("/other/notes.txt")
}

func TestRegisterIgnoresNonPriority(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New([]string{".docx"}, 1024)
	c.RegisterPendingPriorityFile("/src/notes.txt")

	g.Expect(c.Stats().PendingPriority).Should(BeZero())
}

func TestLargeFileExclusivity(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New(nil, 1)

	c.RequestTransfer("/a/big1.bin", 2048)

	second := requestAsync(c, "/b/big2.bin", 2048)
	g.Consistently(second, 100*time.Millisecond).ShouldNot(BeClosed())

	small := requestAsync(c, "/b/small.txt", 100)
	g.Eventually(small).Should(BeClosed(), "small files are not held by a large transfer")

	c.ReleaseTransfer("/a/big1.bin")
	g.Eventually(second).Should(BeClosed())
	g.Expect(c.Stats().TransferringLarge).Should(Equal(1))

	c.ReleaseTransfer("/b/big2.bin")
	c.ReleaseTransfer("/b/small.txt")
}

func TestAtMostOneLargeInFlight(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New(nil, 1)

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		wg       sync.WaitGroup
	)

	// Admission order between waiters is unspecified; only exclusivity is asserted.
	for i := range 8 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			path := string(rune('a'+n)) + ".iso"
			c.RequestTransfer(path, 4096)

			mu.Lock()
			inFlight++
			peak = max(peak, inFlight)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()

			c.ReleaseTransfer(path)
		}(i)
	}

	wg.Wait()
	g.Expect(peak).Should(Equal(1))
	g.Expect(c.Stats()).Should(Equal(coordinator.Stats{}))
}

func TestSamePathFromTwoJobs(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New([]string{".docx"}, 1024)
	c.RegisterPendingPriorityFile("shared.docx")
	c.RegisterPendingPriorityFile("shared.docx")

	c.RequestTransfer("shared.docx", 1)
	g.Expect(c.Stats().PendingPriority).Should(Equal(1))

	c.UnregisterPendingPriorityFile("shared.docx")
	c.ReleaseTransfer("shared.docx")
	g.Expect(c.Stats()).Should(Equal(coordinator.Stats{}))
}

func TestReloadWakesWaiters(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New(nil, 1)
	c.RequestTransfer("first.bin", 4096)

	second := requestAsync(c, "second.bin", 4096)
	g.Consistently(second, 50*time.Millisecond).ShouldNot(BeClosed())

	c.Reload(nil, 1024)
	g.Eventually(second).Should(BeClosed(), "no longer large under the new threshold")

	c.ReleaseTransfer("first.bin")
	c.ReleaseTransfer("second.bin")
}

func TestReloadReleasesFilesNoLongerPriority(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	c := coordinator.New([]string{".docx"}, 1024)
	c.RegisterPendingPriorityFile("/src/report.docx")

	txt := requestAsync(c, "/src/notes.txt", 10)
	g.Consistently(txt, 50*time.Millisecond).ShouldNot(BeClosed())

	c.Reload([]string{".pdf"}, 1024)
	g.Eventually(txt).Should(BeClosed())
	g.Expect(c.Stats().PendingPriority).Should(BeZero())

	c.RequestTransfer("/src/report.docx", 10)
	c.ReleaseTransfer("/src/report.docx")
	c.ReleaseTransfer("/src/notes.txt")
	g.Expect(c.Stats()).Should(Equal(coordinator.Stats{}))
}
