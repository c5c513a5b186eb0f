// Package coordinator implements the admission gate every file transfer of
// every job passes through.
//
// Two rules are enforced:
//
//   - priority preemption: while priority extensions are configured and any
//     priority file is pending, non-priority transfers wait;
//   - large-file exclusivity: at most one transfer larger than the parallel
//     size threshold is in flight.
//
// Waiters are woken with a broadcast and re-check both rules. There is no
// FIFO ordering between waiters.
package coordinator

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("multisave.coordinator")

// Stats is a point-in-time view of the tracking sets.
type Stats struct {
	PendingPriority      int
	TransferringPriority int
	TransferringLarge    int
	Waiting              int
}

// Coordinator is the cross-job transfer gate. The zero value is not usable;
// construct with New.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	priorityExtensions   map[string]bool
	maxParallelSizeBytes int64

	// Multisets keyed by path: two jobs may touch the same path.
	pendingPriority      map[string]int
	transferringPriority map[string]int
	transferringLarge    map[string]int

	waiting int
}

// New creates a coordinator. Extensions are normalized to lowercase with a
// leading dot; maxParallelSizeKB is the large-file threshold in KiB.
func New(priorityExtensions []string, maxParallelSizeKB int64) *Coordinator {
	c := &Coordinator{
		pendingPriority:      make(map[string]int),
		transferringPriority: make(map[string]int),
		transferringLarge:    make(map[string]int),
	}
	c.cond = sync.NewCond(&c.mu)
	c.priorityExtensions, c.maxParallelSizeBytes = normalize(priorityExtensions, maxParallelSizeKB)

	return c
}

// Reload replaces the classification inputs and wakes every waiter. Pending
// files that are no longer priority stop holding back other transfers.
func (c *Coordinator) Reload(priorityExtensions []string, maxParallelSizeKB int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.priorityExtensions, c.maxParallelSizeBytes = normalize(priorityExtensions, maxParallelSizeKB)

	for path := range c.pendingPriority {
		if !c.isPriorityLocked(path) {
			delete(c.pendingPriority, path)
		}
	}

	logger.Debugf("reloaded: %d priority extensions, large threshold %d bytes",
		len(c.priorityExtensions), c.maxParallelSizeBytes)
	c.cond.Broadcast()
}

// IsPriority reports whether path has a priority extension.
func (c *Coordinator) IsPriority(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isPriorityLocked(path)
}

// IsLarge reports whether size exceeds the parallel size threshold.
func (c *Coordinator) IsLarge(size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return size > c.maxParallelSizeBytes
}

// RegisterPendingPriorityFile marks a scanned priority file as waiting to
// start. Non-priority paths are ignored.
func (c *Coordinator) RegisterPendingPriorityFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isPriorityLocked(path) {
		return
	}

	c.pendingPriority[path]++
}

// UnregisterPendingPriorityFile drops a pending priority file that will not
// be transferred, waking waiters Rule A may have been holding.
func (c *Coordinator) UnregisterPendingPriorityFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if decrement(c.pendingPriority, path) {
		c.cond.Broadcast()
	}
}

// RequestTransfer blocks until path may be transferred. Every successful
// call must be paired with ReleaseTransfer.
func (c *Coordinator) RequestTransfer(path string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	isPriority := c.isPriorityLocked(path)

	// Registered under an earlier classification, the path is pending
	// whatever its class is now.
	if decrement(c.pendingPriority, path) {
		// Non-priority waiters recheck Rule A.
		c.cond.Broadcast()
	}

	for {
		blockedByPriority := !isPriority && len(c.priorityExtensions) > 0 && len(c.pendingPriority) > 0
		isLarge := size > c.maxParallelSizeBytes
		blockedByLarge := isLarge && len(c.transferringLarge) > 0

		if !blockedByPriority && !blockedByLarge {
			if isPriority {
				c.transferringPriority[path]++
			}

			if isLarge {
				c.transferringLarge[path]++
			}

			return
		}

		logger.Tracef("waiting for %s (priority backlog %t, large in flight %t)",
			path, blockedByPriority, blockedByLarge)

		c.waiting++
		c.cond.Wait()
		c.waiting--
	}
}

// ReleaseTransfer ends the transfer of path and wakes every waiter.
func (c *Coordinator) ReleaseTransfer(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	decrement(c.transferringPriority, path)
	decrement(c.transferringLarge, path)
	c.cond.Broadcast()
}

// Stats returns the current set sizes.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		PendingPriority:      count(c.pendingPriority),
		TransferringPriority: count(c.transferringPriority),
		TransferringLarge:    count(c.transferringLarge),
		Waiting:              c.waiting,
	}
}

func (c *Coordinator) isPriorityLocked(path string) bool {
	if len(c.priorityExtensions) == 0 {
		return false
	}

	return c.priorityExtensions[strings.ToLower(filepath.Ext(path))]
}

func normalize(extensions []string, maxParallelSizeKB int64) (map[string]bool, int64) {
	set := make(map[string]bool, len(extensions))

	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}

		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		set[ext] = true
	}

	if maxParallelSizeKB < 0 {
		maxParallelSizeKB = 0
	}

	return set, maxParallelSizeKB * 1024 //nolint:mnd // KiB
}

// decrement removes one occurrence of key, reporting whether it was present.
func decrement(set map[string]int, key string) bool {
	n, ok := set[key]
	if !ok {
		return false
	}

	if n <= 1 {
		delete(set, key)
	} else {
		set[key] = n - 1
	}

	return true
}

func count(set map[string]int) int {
	total := 0
	for _, n := range set {
		total += n
	}

	return total
}
