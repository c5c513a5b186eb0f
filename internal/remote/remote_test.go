package remote_test

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/joe/multisave/internal/backup"
	"github.com/joe/multisave/internal/config"
	"github.com/joe/multisave/internal/remote"
)

// gatedEncryptor holds every job inside its first file until released.
type gatedEncryptor struct {
	gate chan struct{}
	once sync.Once
}

func (g *gatedEncryptor) ShouldEncrypt(string) bool { return true }

func (g *gatedEncryptor) Encrypt(ctx context.Context, _ string) (time.Duration, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
	}

	return 0, nil
}

func (g *gatedEncryptor) release() {
	g.once.Do(func() { close(g.gate) })
}

var _ = Describe("Remote console", func() {
	var (
		ignore    goleak.Option
		ctx       context.Context
		encryptor *gatedEncryptor
		manager   *backup.Manager
		server    *remote.Server
		client    *remote.Client
	)

	jobState := func() string {
		statuses, err := client.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(statuses).To(HaveLen(1))

		return statuses[0].State
	}

	rawCommand := func(line string) string {
		conn, err := net.Dial("tcp", server.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		lines := bufio.NewScanner(conn)
		Expect(lines.Scan()).To(BeTrue(), "greeting")

		_, err = conn.Write([]byte(line + "\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(lines.Scan()).To(BeTrue(), "response")

		return lines.Text()
	}

	BeforeEach(func() {
		ignore = goleak.IgnoreCurrent()
		ctx = context.Background()

		root, err := os.MkdirTemp("", "multisave-remote-")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, root)

		source := filepath.Join(root, "src")
		Expect(os.MkdirAll(source, 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(source, "a.txt"), []byte("hello"), 0o600)).To(Succeed())

		encryptor = &gatedEncryptor{gate: make(chan struct{})}
		manager = backup.NewManager(backup.Config{Deps: backup.Deps{Encryptor: encryptor}})
		Expect(manager.AddBackupJob("docs", source, filepath.Join(root, "dst"), config.Full)).To(Succeed())

		server, err = remote.NewServer(remote.ServerConfig{Listen: "127.0.0.1:0", Controller: manager})
		Expect(err).NotTo(HaveOccurred())

		client = remote.NewClient(server.Addr().String())
	})

	AfterEach(func() {
		encryptor.release()

		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(manager.Shutdown(shutdown)).To(Succeed())

		server.Kill()
		Expect(server.Wait()).To(Succeed())

		Eventually(func() error { return goleak.Find(ignore) }).Should(Succeed())
	})

	Describe("commands", func() {
		It("lists job statuses", func() {
			statuses, err := client.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(Equal([]backup.StatusDTO{{Index: 0, Name: "docs", State: "Inactive"}}))
		})

		It("accepts lower case verbs", func() {
			Expect(rawCommand("list")).To(MatchJSON(`[{"Index":0,"Name":"docs","State":"Inactive","Progress":0}]`))
		})

		It("rejects unknown commands", func() {
			Expect(rawCommand("FROB 1")).To(MatchJSON(`{"Success":false,"Message":"Unknown command"}`))
		})

		It("reports a bad index per command", func() {
			result, err := client.Start(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.Message).To(ContainSubstring("not found"))
		})

		It("refuses to stop an idle job", func() {
			result, err := client.Stop(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(backup.Result{Message: "job 0 is not running"}))
		})

		It("pauses and resumes a running job", func() {
			result, err := client.Start(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Eventually(jobState).Should(Equal("Active"))

			result, err = client.Pause(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(jobState()).To(Equal("Paused"))

			encryptor.release()

			result, err = client.ResumeAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Eventually(jobState).Should(Equal("Completed"))
		})

		It("stops a running job", func() {
			_, err := client.Start(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Eventually(jobState).Should(Equal("Active"))

			result, err := client.Stop(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())

			encryptor.release()
			Eventually(jobState).Should(Equal("Inactive"))
		})
	})

	Describe("push stream", func() {
		It("greets and then broadcasts to every listener", func() {
			first := remote.NewClient(server.Addr().String())
			second := remote.NewClient(server.Addr().String())

			firstCh, err := first.StartListening(ctx)
			Expect(err).NotTo(HaveOccurred())
			secondCh, err := second.StartListening(ctx)
			Expect(err).NotTo(HaveOccurred())

			for _, ch := range []<-chan []backup.StatusDTO{firstCh, secondCh} {
				Eventually(ch).Should(Receive(ContainElement(HaveField("State", "Inactive"))))
			}

			encryptor.release()
			_, err = client.Start(ctx, 0)
			Expect(err).NotTo(HaveOccurred())

			for _, ch := range []<-chan []backup.StatusDTO{firstCh, secondCh} {
				Eventually(ch).Should(Receive(ContainElement(HaveField("State", "Completed"))))
			}

			Expect(first.Disconnect()).To(Succeed())
			Expect(second.Disconnect()).To(Succeed())
			Eventually(firstCh).Should(BeClosed())
			Eventually(secondCh).Should(BeClosed())
		})

		It("refuses a second listening connection", func() {
			_, err := client.StartListening(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = client.StartListening(ctx)
			Expect(err).To(MatchError(ContainSubstring("already exists")))
			Expect(client.Disconnect()).To(Succeed())
		})

		It("reports the loss of the server but not a manual disconnect", func() {
			lost := make(chan error, 2)
			watcher := remote.NewClient(server.Addr().String())
			watcher.OnDisconnected(func(err error) { lost <- err })

			quiet := make(chan error, 2)
			leaver := remote.NewClient(server.Addr().String())
			leaver.OnDisconnected(func(err error) { quiet <- err })

			_, err := watcher.StartListening(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = leaver.StartListening(ctx)
			Expect(err).NotTo(HaveOccurred())
			Eventually(server.ClientCount).Should(Equal(2))

			Expect(leaver.Disconnect()).To(Succeed())
			Consistently(quiet, 200*time.Millisecond).ShouldNot(Receive())

			server.Kill()
			Expect(server.Wait()).To(Succeed())

			Eventually(lost).Should(Receive())
			Consistently(lost, 200*time.Millisecond).ShouldNot(Receive())
			Eventually(watcher.Listening).Should(BeFalse())
		})
	})
})
