package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
)

// Client talks to a running daemon over the control socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %q: %w (is 'talkey run' running?)", socketPath, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Client{conn: conn, scanner: scanner, encoder: json.NewEncoder(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Send issues one command and reads its response.
func (c *Client) Send(cmd Command) (Response, error) {
	if err := c.encoder.Encode(cmd); err != nil {
		return Response{}, fmt.Errorf("send command: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("daemon closed the connection")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

// Subscribe switches the connection to the event stream. After a successful
// subscribe only ReadEvent may be used.
func (c *Client) Subscribe() error {
	_, err := c.Send(Command{Op: OpSubscribe})
	return err
}

// ReadEvent blocks for the next event on a subscribed connection.
func (c *Client) ReadEvent() (Event, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Event{}, fmt.Errorf("read event: %w", err)
		}
		return Event{}, fmt.Errorf("daemon closed the event stream")
	}

	var ev Event
	if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
