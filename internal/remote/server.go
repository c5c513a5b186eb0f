package remote

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/joe/multisave/internal/backup"
)

var logger = loggo.GetLogger("multisave.remote")

// Defaults for ServerConfig.
const (
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 5 * time.Second
	maxLineBytes        = 64 * 1024
)

const errQueueFull = errors.ConstError("outbound queue full")

// Controller is the part of the job manager the server drives.
type Controller interface {
	AttachObserver(backup.Observer) func()
	GetJobStatuses() []backup.StatusDTO
	ExecuteJobsAsync(ctx context.Context, indices []int) *backup.Batch
	PauseBackupJobs(indices []int, reason string) backup.Result
	ResumeBackupJobs(indices []int) backup.Result
	KillBackupJob(index int) bool
}

// ServerConfig holds the server's dependencies.
type ServerConfig struct {
	Listen       string
	Controller   Controller
	Clock        clock.Clock
	QueueSize    int
	WriteTimeout time.Duration
}

// Validate checks the config and fills defaults.
func (cfg *ServerConfig) Validate() error {
	if cfg.Listen == "" {
		return errors.NotValidf("empty listen address")
	}

	if cfg.Controller == nil {
		return errors.NotValidf("nil Controller")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	return nil
}

// Server accepts console clients, answers their commands and pushes the
// full status list to every client whenever a job event is observed.
type Server struct {
	tomb     tomb.Tomb
	cfg      ServerConfig
	listener net.Listener
	detach   func()

	broadcastMu sync.Mutex

	mu      sync.Mutex
	clients map[*session]struct{}
	nextID  int
	closing bool
}

var (
	_ worker.Worker   = (*Server)(nil)
	_ backup.Observer = (*Server)(nil)
)

// NewServer starts listening and attaches the server to the controller.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %s", cfg.Listen)
	}

	s := &Server{
		cfg:      cfg,
		listener: listener,
		clients:  make(map[*session]struct{}),
	}
	s.detach = cfg.Controller.AttachObserver(s)

	logger.Infof("remote console listening on %s", listener.Addr())

	s.tomb.Go(s.loop)

	return s, nil
}

// Addr is the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Kill is part of the worker.Worker interface.
func (s *Server) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Server) Wait() error {
	return s.tomb.Wait()
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// Update implements backup.Observer.
func (s *Server) Update(backup.Event) {
	s.broadcast()
}

func (s *Server) loop() error {
	s.tomb.Go(func() error {
		<-s.tomb.Dying()
		s.detach()
		err := s.listener.Close()
		s.dropAll()

		return errors.Trace(err)
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.tomb.Dying():
				return tomb.ErrDying
			default:
				return errors.Annotate(err, "accepting console client")
			}
		}

		s.serve(conn)
	}
}

// session is one connected client. Every outbound line goes through queue
// so that responses and broadcasts never interleave on the wire.
type session struct {
	id     int
	conn   net.Conn
	queue  chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *session) enqueue(line []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.queue <- line:
		return true
	default:
		return false
	}
}

func (s *Server) serve(conn net.Conn) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()

		return
	}

	s.nextID++
	c := &session{
		id:     s.nextID,
		conn:   conn,
		queue:  make(chan []byte, s.cfg.QueueSize),
		closed: make(chan struct{}),
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	logger.Debugf("client %d connected from %s", c.id, conn.RemoteAddr())

	line, err := encodeLine(s.cfg.Controller.GetJobStatuses())
	if err != nil || !c.enqueue(line) {
		s.drop(c, err)
		return
	}

	s.tomb.Go(func() error { return s.writeLoop(c) })
	s.tomb.Go(func() error { return s.readLoop(c) })
}

func (s *Server) writeLoop(c *session) error {
	for {
		select {
		case <-c.closed:
			return nil
		case line := <-c.queue:
			_ = c.conn.SetWriteDeadline(s.cfg.Clock.Now().Add(s.cfg.WriteTimeout))

			if _, err := c.conn.Write(line); err != nil {
				s.drop(c, err)
				return nil
			}
		}
	}
}

func (s *Server) readLoop(c *session) error {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 1024), maxLineBytes)

	for scanner.Scan() {
		response, err := encodeLine(s.handle(scanner.Text()))
		if err != nil {
			s.drop(c, err)
			return nil
		}

		if !c.enqueue(response) {
			s.drop(c, errQueueFull)
			return nil
		}
	}

	s.drop(c, scanner.Err())

	return nil
}

// handle runs one command and returns the value to send back.
func (s *Server) handle(line string) any {
	cmd, err := ParseCommand(line)
	if err != nil {
		logger.Debugf("rejected command %q: %v", line, err)
		return failure(err)
	}

	logger.Debugf("command %s", cmd)

	ctl := s.cfg.Controller

	switch cmd.Verb {
	case VerbList:
		return ctl.GetJobStatuses()
	case VerbStart:
		return ctl.ExecuteJobsAsync(context.Background(), []int{cmd.Index}).Launched()
	case VerbPause:
		return ctl.PauseBackupJobs([]int{cmd.Index}, "paused from remote console")
	case VerbResume:
		return ctl.ResumeBackupJobs([]int{cmd.Index})
	case VerbStop:
		if ctl.KillBackupJob(cmd.Index) {
			return backup.Result{Success: true, Message: fmt.Sprintf("job %d stopping", cmd.Index)}
		}

		return backup.Result{Message: fmt.Sprintf("job %d is not running", cmd.Index)}
	case VerbPauseAll:
		return ctl.PauseBackupJobs(nil, "paused from remote console")
	case VerbResumeAll:
		return ctl.ResumeBackupJobs(nil)
	}

	return failure(ErrUnknownCommand)
}

// broadcast marshals the status list once and queues it for every client.
// A client whose queue is full is dropped; the others are unaffected.
func (s *Server) broadcast() {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	line, err := encodeLine(s.cfg.Controller.GetJobStatuses())
	if err != nil {
		logger.Errorf("encoding status broadcast: %v", err)
		return
	}

	for _, c := range s.snapshot() {
		if !c.enqueue(line) {
			s.drop(c, errQueueFull)
		}
	}
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make([]*session, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}

	return clients
}

func (s *Server) drop(c *session, reason error) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()

		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()

		if reason != nil {
			logger.Debugf("client %d dropped: %v", c.id, reason)
		} else {
			logger.Debugf("client %d disconnected", c.id)
		}
	})
}

func (s *Server) dropAll() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	for _, c := range s.snapshot() {
		s.drop(c, nil)
	}
}
