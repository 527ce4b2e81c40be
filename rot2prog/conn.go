package rot2prog

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// DefaultTimeout bounds connect, read and write operations.
const DefaultTimeout = time.Second

// Conn is a request/response session with a controller. It is not safe for
// concurrent use.
type Conn struct {
	rw      io.ReadWriteCloser
	timeout time.Duration
	buf     [128]byte
}

// NewConn wraps an established transport. If rw supports deadlines, each
// exchange is bounded by timeout.
func NewConn(rw io.ReadWriteCloser, timeout time.Duration) *Conn {
	return &Conn{rw: rw, timeout: timeout}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Execute sends cmd and waits for the matching response.
func (c *Conn) Execute(cmd Command) (Response, error) {
	if d, ok := c.rw.(deadliner); ok && c.timeout > 0 {
		if err := d.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return Response{}, ioErrorf("setting deadline: %v", err)
		}
	}
	if _, err := c.rw.Write(cmd.Bytes()); err != nil {
		return Response{}, ioErrorf("sending %s command: %v", cmd.Kind, err)
	}
	n := 0
	for n < ResponseLength {
		m, err := c.rw.Read(c.buf[n:])
		n += m
		if err != nil {
			if n == 0 {
				return Response{}, ioErrorf("reading response to %s command: %v", cmd.Kind, err)
			}
			break
		}
		if m == 0 {
			break
		}
	}
	return cmd.parseResponse(c.buf[:n])
}

func (c *Conn) Close() error {
	return c.rw.Close()
}

// Dialer opens sessions to a controller.
type Dialer interface {
	Dial(ctx context.Context) (*Conn, error)
}

// TCPDialer connects to a controller behind a serial-to-TCP bridge.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

func (d TCPDialer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d TCPDialer) Dial(ctx context.Context) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout: d.timeout(),
	}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, ioErrorf("opening %q: %v", d.Address, err)
	}
	log.Printf("opened %q", d.Address)
	return NewConn(conn, d.timeout()), nil
}

// SerialDialer connects to a controller on a local serial port.
type SerialDialer struct {
	Port    string
	Baud    int
	Timeout time.Duration
}

// DefaultBaud is the controller's factory serial speed.
const DefaultBaud = 600

func (d SerialDialer) Dial(ctx context.Context) (*Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baud := d.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        d.Port,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, ioErrorf("opening %q: %v", d.Port, err)
	}
	log.Printf("opened %q", d.Port)
	return NewConn(port, timeout), nil
}

// NewDialer picks a dialer from an address. "serial:///dev/ttyUSB0?baud=600"
// selects a serial port; anything else is a TCP host:port.
func NewDialer(address string, timeout time.Duration) (Dialer, error) {
	if !strings.HasPrefix(address, "serial:") {
		return TCPDialer{Address: address, Timeout: timeout}, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", address, err)
	}
	d := SerialDialer{Port: u.Path, Timeout: timeout}
	if d.Port == "" {
		d.Port = u.Opaque
	}
	if d.Port == "" {
		return nil, fmt.Errorf("%q: missing serial device", address)
	}
	if b := u.Query().Get("baud"); b != "" {
		d.Baud, err = strconv.Atoi(b)
		if err != nil {
			return nil, fmt.Errorf("%q: bad baud rate: %w", address, err)
		}
	}
	return d, nil
}
