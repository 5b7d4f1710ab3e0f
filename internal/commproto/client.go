package commproto

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a thin, reconnecting line-protocol client over the vendor
// comm-server's TCP socket. The mutex guards the connection and scanner
// fields that the dial path replaces; ReadLine takes it only to fetch the
// scanner and reads outside it, and Query opens a connection of its own
// without taking it. There is no pipelining in this wire format.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Scanner
}

// NewClient constructs a client bound to addr ("host:port"); Dial must be
// called before use.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Dial opens the TCP connection. Safe to call again after a prior
// connection was lost to reconnect.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("commproto: dial %s: %w", c.addr, err)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.r = bufio.NewScanner(conn)
	return nil
}

// Send writes a pre-formatted command line (see FormatOverride /
// FormatEventQuery) to the comm server.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("commproto: not connected to %s", c.addr)
	}
	_, err := c.conn.Write([]byte(line))
	return err
}

// ReadLine blocks for the next line from the comm server, or returns an
// error if the connection closed or the scanner failed.
func (c *Client) ReadLine() (string, error) {
	c.mu.Lock()
	scanner := c.r
	c.mu.Unlock()
	if scanner == nil {
		return "", fmt.Errorf("commproto: not connected")
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("commproto: connection closed")
	}
	return scanner.Text(), nil
}

// Alive reports whether the client currently holds an open connection. It
// does not probe the socket; callers that need liveness combine this with a
// recent successful Send/ReadLine.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	return err
}

// DialTimeout is a convenience wrapper around Dial with a bounded context,
// used at process startup before the event loop is running.
func (c *Client) DialTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Dial(ctx)
}

// Query issues one event-query request/response round trip (§6) over its
// own short-lived connection, independent of the persistent connection Dial
// opens for Send/ReadLine. The vendor protocol closes its side once it has
// written every outstanding line, so this dials, writes line, half-closes
// its own write side, and reads every line until the server closes —
// mirroring the original comm-server socket listener's one-shot-socket-per-
// request shape rather than reusing the long-lived command connection.
func (c *Client) Query(ctx context.Context, line string) ([]string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("commproto: query dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(line)); err != nil {
		return nil, fmt.Errorf("commproto: query write: %w", err)
	}
	if half, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := half.CloseWrite(); err != nil {
			return nil, fmt.Errorf("commproto: query close-write: %w", err)
		}
	}

	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		lines = append(lines, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("commproto: query read: %w", err)
	}
	return lines, nil
}
