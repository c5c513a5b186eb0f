package backup_test

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/joe/multisave/internal/backup"
	"github.com/joe/multisave/internal/config"
	"github.com/joe/multisave/pkg/filesystem"
)

func TestObserversNotifiedInRegistrationOrder(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := filesystem.NewMockFileSystem()
	fs.AddFile("/src/a", []byte("a"))

	job, _ := newJob(fs, config.Full, nil)

	var order []string

	job.Attach(backup.ObserverFunc(func(e backup.Event) {
		if e.Action == backup.ActionStart {
			order = append(order, "first")
		}
	}))
	job.Attach(backup.ObserverFunc(func(backup.Event) {
		panic("observer bug")
	}))
	job.Attach(backup.ObserverFunc(func(e backup.Event) {
		if e.Action == backup.ActionStart {
			order = append(order, "third")
		}
	}))

	g.Expect(job.Execute(context.Background())).Should(BeTrue(), "a panicking observer does not abort the job")
	g.Expect(order).Should(Equal([]string{"first", "third"}))
}

func TestDetachStopsDelivery(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	fs := filesystem.NewMockFileSystem()
	fs.AddDir("/src")

	job, _ := newJob(fs, config.Full, nil)

	obs := NewMockObserver(ctrl)
	gomock.InOrder(
		obs.EXPECT().Update(actionIs(backup.ActionStart)),
		obs.EXPECT().Update(actionIs(backup.ActionFinish)),
		obs.EXPECT().Update(actionIs(backup.ActionEnd)),
	)

	detach := job.Attach(obs)
	job.Execute(context.Background())

	detach()
	job.Execute(context.Background())
}

func TestPauseOnlyFromActive(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	job, rec := newJob(filesystem.NewMockFileSystem(), config.Full, nil)

	g.Expect(job.Pause("user")).Should(BeFalse())
	g.Expect(job.Resume()).Should(BeFalse())
	g.Expect(rec.actions()).Should(BeEmpty())
	g.Expect(job.IsPaused()).Should(BeFalse())
}

func TestCheckpointBlocksWhilePaused(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := filesystem.NewMockFileSystem()
	fs.AddFile("/src/1", []byte("1"))
	fs.AddFile("/src/2", []byte("2"))
	fs.AddFile("/src/3", []byte("3"))

	job, rec := newJob(fs, config.Full, nil)

	paused := false

	job.Attach(backup.ObserverFunc(func(e backup.Event) {
		if e.Action == backup.ActionProcessing && !paused {
			paused = true
			g.Expect(job.Pause("user request")).Should(BeTrue())
		}
	}))

	done := make(chan bool)

	go func() {
		done <- job.Execute(context.Background())
	}()

	g.Eventually(job.IsPaused).Should(BeTrue())
	g.Consistently(func() int { return job.Snapshot().FilesRemaining }, "100ms").Should(Equal(2))

	pauses := rec.withAction(backup.ActionPause)
	g.Expect(pauses).Should(HaveLen(1))
	g.Expect(pauses[0].Reason).Should(Equal("user request"))
	g.Expect(pauses[0].Job.State).Should(Equal(backup.Paused))

	processing := rec.withAction(backup.ActionProcessing)
	g.Expect(processing).ShouldNot(BeEmpty())
	g.Expect(pauses[0].Job.Seq).Should(BeNumerically(">", processing[0].Job.Seq))

	g.Expect(job.Resume()).Should(BeTrue())
	g.Eventually(done).Should(Receive(BeTrue()))
	g.Expect(job.State()).Should(Equal(backup.Completed))
	g.Expect(rec.count(backup.ActionResume)).Should(Equal(1))
}

func TestCancelledContextLeavesJobInactive(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := filesystem.NewMockFileSystem()
	fs.AddFile("/src/a", []byte("a"))

	job, rec := newJob(fs, config.Full, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g.Expect(job.Execute(ctx)).Should(BeFalse())
	g.Expect(job.State()).Should(Equal(backup.Inactive))
	g.Expect(fs.Exists("/dst/a")).Should(BeFalse())

	ends := rec.withAction(backup.ActionEnd)
	g.Expect(ends).Should(HaveLen(1))
	g.Expect(ends[0].Reason).Should(Equal("killed"))
}

type actionMatcher struct {
	action backup.Action
}

func actionIs(action backup.Action) gomock.Matcher {
	return actionMatcher{action: action}
}

func (m actionMatcher) Matches(x any) bool {
	event, ok := x.(backup.Event)
	return ok && event.Action == m.action
}

func (m actionMatcher) String() string {
	return "is an event with action " + string(m.action)
}
