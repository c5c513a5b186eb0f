package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/joe/multisave/internal/backup"
)

// DefaultCallTimeout bounds a one-shot command round trip.
const DefaultCallTimeout = 5 * time.Second

// Client talks to a Server. One-shot commands each use their own short
// connection; StartListening keeps one connection open for pushed statuses.
type Client struct {
	addr        string
	callTimeout time.Duration

	mu             sync.Mutex
	listen         *tomb.Tomb
	conn           net.Conn
	manual         bool
	onDisconnected func(error)
}

// NewClient creates a client for the server at addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr, callTimeout: DefaultCallTimeout}
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// OnDisconnected registers fn to run when the listening connection is lost
// without Disconnect having been called.
func (c *Client) OnDisconnected(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onDisconnected = fn
}

// Send runs one command and returns the raw response line.
func (c *Client) Send(ctx context.Context, command string) ([]byte, error) {
	cmd, err := ParseCommand(command)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return c.call(ctx, cmd)
}

func (c *Client) call(ctx context.Context, cmd Command) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", c.addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	lines := bufio.NewScanner(conn)
	lines.Buffer(make([]byte, 0, 1024), maxLineBytes)

	// The server greets every connection with the current statuses.
	if _, err := readLine(lines); err != nil {
		return nil, errors.Annotate(err, "reading greeting")
	}

	if _, err := conn.Write([]byte(cmd.String() + "\n")); err != nil {
		return nil, errors.Annotatef(err, "sending %s", cmd.Verb)
	}

	for {
		line, err := readLine(lines)
		if err != nil {
			return nil, errors.Annotatef(err, "reading %s response", cmd.Verb)
		}

		// Status pushes may arrive before the answer; only LIST answers
		// with a status array.
		if cmd.Verb == VerbList || !isStatusLine(line) {
			return line, nil
		}
	}
}

func readLine(lines *bufio.Scanner) ([]byte, error) {
	if lines.Scan() {
		return append([]byte(nil), lines.Bytes()...), nil
	}

	if err := lines.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	return nil, errors.New("connection closed")
}

func (c *Client) result(ctx context.Context, cmd Command) (backup.Result, error) {
	line, err := c.call(ctx, cmd)
	if err != nil {
		return backup.Result{}, errors.Trace(err)
	}

	var result backup.Result
	if err := json.Unmarshal(line, &result); err != nil {
		return backup.Result{}, errors.Annotatef(err, "decoding %s response", cmd.Verb)
	}

	return result, nil
}

// List returns the current job statuses.
func (c *Client) List(ctx context.Context) ([]backup.StatusDTO, error) {
	line, err := c.call(ctx, Command{Verb: VerbList})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var statuses []backup.StatusDTO
	if err := json.Unmarshal(line, &statuses); err != nil {
		return nil, errors.Annotate(err, "decoding status list")
	}

	return statuses, nil
}

// Start launches the job at index without waiting for it.
func (c *Client) Start(ctx context.Context, index int) (backup.Result, error) {
	return c.result(ctx, Command{Verb: VerbStart, Index: index})
}

// Pause pauses the job at index.
func (c *Client) Pause(ctx context.Context, index int) (backup.Result, error) {
	return c.result(ctx, Command{Verb: VerbPause, Index: index})
}

// Resume resumes the job at index.
func (c *Client) Resume(ctx context.Context, index int) (backup.Result, error) {
	return c.result(ctx, Command{Verb: VerbResume, Index: index})
}

// Stop kills the job at index.
func (c *Client) Stop(ctx context.Context, index int) (backup.Result, error) {
	return c.result(ctx, Command{Verb: VerbStop, Index: index})
}

// PauseAll pauses every active job.
func (c *Client) PauseAll(ctx context.Context) (backup.Result, error) {
	return c.result(ctx, Command{Verb: VerbPauseAll})
}

// ResumeAll resumes every paused job.
func (c *Client) ResumeAll(ctx context.Context) (backup.Result, error) {
	return c.result(ctx, Command{Verb: VerbResumeAll})
}

// StartListening opens the push connection. Every status array the server
// sends is delivered on the returned channel, which is closed when the
// connection ends.
func (c *Client) StartListening(ctx context.Context) (<-chan []backup.StatusDTO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listen != nil {
		return nil, errors.AlreadyExistsf("listening connection to %s", c.addr)
	}

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", c.addr)
	}

	out := make(chan []backup.StatusDTO, 16)
	t := &tomb.Tomb{}

	c.listen = t
	c.conn = conn
	c.manual = false

	t.Go(func() error {
		select {
		case <-ctx.Done():
			c.markManual()
			_ = conn.Close()
		case <-t.Dying():
		}

		return nil
	})
	t.Go(func() error {
		defer close(out)

		err := c.receive(t, conn, out)
		t.Kill(nil)
		c.finish(t, err)

		return nil
	})

	return out, nil
}

func (c *Client) receive(t *tomb.Tomb, conn net.Conn, out chan<- []backup.StatusDTO) error {
	lines := bufio.NewScanner(conn)
	lines.Buffer(make([]byte, 0, 1024), maxLineBytes)

	for lines.Scan() {
		if !isStatusLine(lines.Bytes()) {
			continue
		}

		var statuses []backup.StatusDTO
		if err := json.Unmarshal(lines.Bytes(), &statuses); err != nil {
			logger.Warningf("ignoring malformed status push: %v", err)
			continue
		}

		select {
		case out <- statuses:
		case <-t.Dying():
			return nil
		}
	}

	if err := lines.Err(); err != nil {
		return errors.Trace(err)
	}

	return errors.New("server closed the connection")
}

func (c *Client) markManual() {
	c.mu.Lock()
	c.manual = true
	c.mu.Unlock()
}

// finish clears the session and, unless it was closed on purpose, reports
// the loss once.
func (c *Client) finish(t *tomb.Tomb, cause error) {
	c.mu.Lock()
	manual := c.manual
	notify := c.onDisconnected

	if c.listen == t {
		_ = c.conn.Close()
		c.listen = nil
		c.conn = nil
	}
	c.mu.Unlock()

	if manual || notify == nil {
		return
	}

	logger.Infof("lost connection to %s: %v", c.addr, cause)
	notify(cause)
}

// Disconnect closes the listening connection without firing OnDisconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	t := c.listen
	conn := c.conn
	c.manual = true
	c.mu.Unlock()

	if t == nil {
		return nil
	}

	t.Kill(nil)
	_ = conn.Close()

	return errors.Trace(t.Wait())
}

// Listening reports whether a push connection is open.
func (c *Client) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.listen != nil
}
