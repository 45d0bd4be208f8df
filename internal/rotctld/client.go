// Package rotctld is a client for the hamlib rotator daemon's line protocol.
//
// Each exchange is one full write followed by a single read of at most
// replySize bytes. Transport failures (short write, empty read, socket error)
// are returned as-is so the caller can count them; a non-zero RPRT reply is a
// *ReplyError and leaves the connection usable.
package rotctld

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// replySize bounds a single reply read.
const replySize = 128

var (
	// ErrShortWrite means fewer bytes than the command were sent.
	ErrShortWrite = errors.New("rotctld: short write")
	// ErrNoReply means the daemon answered with zero bytes.
	ErrNoReply = errors.New("rotctld: empty reply")
	// ErrBadReply means a position reply could not be parsed.
	ErrBadReply = errors.New("rotctld: malformed reply")
)

// ReplyError is a non-zero RPRT code returned by the daemon.
type ReplyError struct {
	Code int
	Line string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("rotctld: RPRT %d (%s)", e.Code, e.Line)
}

// IsSoft reports whether err leaves the connection usable. Protocol level
// replies are soft; anything else is a transport failure.
func IsSoft(err error) bool {
	var re *ReplyError
	return errors.As(err, &re) || errors.Is(err, ErrBadReply)
}

// Client talks to one rotctld over a persistent stream. It is not safe for
// concurrent use.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	log     *slog.Logger

	writes atomic.Int64
	reads  atomic.Int64
}

// Dial connects to host:port. timeout bounds the connect and, when positive,
// every later exchange.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial rotctld %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewClient(conn, timeout, logger), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:    conn,
		timeout: timeout,
		log:     logger.With("component", "rotctld", "remote", conn.RemoteAddr().String()),
	}
}

// GetPosition asks for the current azimuth and elevation.
func (c *Client) GetPosition(ctx context.Context) (az, el float64, err error) {
	reply, err := c.exchange(ctx, "p\n")
	if err != nil {
		return 0, 0, err
	}
	if strings.HasPrefix(reply, "RPRT") {
		code := parseCode(reply)
		c.log.Error("rotctld returned error", "reply", strings.TrimSpace(reply))
		return 0, 0, &ReplyError{Code: code, Line: strings.TrimSpace(reply)}
	}

	lines := strings.SplitN(reply, "\n", 3)
	if len(lines) < 2 {
		c.log.Error("rotctld returned bad response", "reply", strings.TrimSpace(reply))
		return 0, 0, fmt.Errorf("%w: %q", ErrBadReply, reply)
	}
	az, err1 := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
	el, err2 := strconv.ParseFloat(strings.TrimSpace(lines[1]), 64)
	if err1 != nil || err2 != nil {
		c.log.Error("rotctld returned bad response", "reply", strings.TrimSpace(reply))
		return 0, 0, fmt.Errorf("%w: %q", ErrBadReply, reply)
	}
	return az, el, nil
}

// SetPosition commands a new azimuth and elevation. A non-zero RPRT code is
// logged and returned as *ReplyError.
func (c *Client) SetPosition(ctx context.Context, az, el float64) error {
	reply, err := c.exchange(ctx, fmt.Sprintf("P %7.2f %7.2f\n", az, el))
	if err != nil {
		return err
	}
	code := parseCode(reply)
	if code == 0 {
		return nil
	}
	line := strings.TrimSpace(reply)
	c.log.Error("rotctld returned error", "code", code, "az", az, "el", el, "reply", line)
	return &ReplyError{Code: code, Line: line}
}

// Close sends the quit command and closes the connection. A failed quit is
// only logged.
func (c *Client) Close() error {
	c.setDeadline(context.Background())
	if n, err := c.conn.Write([]byte("q\n")); err != nil || n != 2 {
		c.log.Warn("quit not delivered", "written", n, "err", err)
	}
	return c.conn.Close()
}

// Writes returns how many commands have been fully sent.
func (c *Client) Writes() int64 { return c.writes.Load() }

// Reads returns how many replies have been received.
func (c *Client) Reads() int64 { return c.reads.Load() }

func (c *Client) exchange(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.setDeadline(ctx)

	n, err := c.conn.Write([]byte(cmd))
	if err != nil {
		c.log.Error("rotctld socket down", "err", err)
		return "", fmt.Errorf("rotctld write: %w", err)
	}
	if n != len(cmd) {
		c.log.Error("size error", "written", n, "size", len(cmd))
		return "", ErrShortWrite
	}
	c.writes.Add(1)

	buf := make([]byte, replySize)
	n, err = c.conn.Read(buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			c.log.Error("rotctld socket down", "err", err)
			return "", fmt.Errorf("rotctld read: %w", err)
		}
		c.log.Error("got 0 bytes from rotctld")
		return "", ErrNoReply
	}
	c.reads.Add(1)
	return string(buf[:n]), nil
}

func (c *Client) setDeadline(ctx context.Context) {
	var dl time.Time
	if c.timeout > 0 {
		dl = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (dl.IsZero() || d.Before(dl)) {
		dl = d
	}
	_ = c.conn.SetDeadline(dl)
}

// parseCode reads the integer after "RPRT". Anything unparsable is -1.
func parseCode(reply string) int {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "RPRT") {
		return -1
	}
	fields := strings.Fields(s[4:])
	if len(fields) == 0 {
		return -1
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1
	}
	return code
}
