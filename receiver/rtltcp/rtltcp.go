// Package rtltcp drives an RTL-SDR dongle served by rtl_tcp.
//
// The server greets with a 12 byte header ("RTL0", tuner type, gain count)
// and then streams interleaved unsigned 8-bit I/Q. Commands are 5 bytes: an
// opcode and a big-endian uint32 argument.
package rtltcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"time"
)

const (
	cmdFrequency  = 0x01
	cmdSampleRate = 0x02
	cmdGainMode   = 0x03
	cmdGain       = 0x04

	headerLength = 12
	magic        = "RTL0"
)

// DefaultSettleSamples is how much of the stream is discarded after a
// retune. rtl_tcp buffers samples taken before the tuner moved.
const DefaultSettleSamples = 1 << 16

type Info struct {
	TunerType  uint32
	GainStages uint32
}

type Device struct {
	conn net.Conn
	r    *bufio.Reader
	info Info
	raw  []byte

	// SettleSamples is discarded after each Tune.
	SettleSamples int
}

// Dial connects to an rtl_tcp server and reads its header.
func Dial(ctx context.Context, addr string) (*Device, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", addr, err)
	}
	d, err := newDevice(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%q: %w", addr, err)
	}
	log.Printf("opened %q: tuner %d, %d gain stages", addr, d.info.TunerType, d.info.GainStages)
	return d, nil
}

func newDevice(conn net.Conn) (*Device, error) {
	d := &Device{
		conn:          conn,
		r:             bufio.NewReaderSize(conn, 1<<16),
		SettleSamples: DefaultSettleSamples,
	}
	var hdr [headerLength]byte
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if string(hdr[:4]) != magic {
		return nil, fmt.Errorf("bad header % X", hdr)
	}
	d.info = Info{
		TunerType:  binary.BigEndian.Uint32(hdr[4:8]),
		GainStages: binary.BigEndian.Uint32(hdr[8:12]),
	}
	return d, nil
}

func (d *Device) Info() Info {
	return d.info
}

func (d *Device) command(ctx context.Context, op byte, arg uint32) error {
	var buf [5]byte
	buf[0] = op
	binary.BigEndian.PutUint32(buf[1:], arg)
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	d.conn.SetWriteDeadline(deadline)
	_, err := d.conn.Write(buf[:])
	return err
}

func (d *Device) SetSampleRate(ctx context.Context, rate float64) error {
	return d.command(ctx, cmdSampleRate, uint32(math.Round(rate)))
}

// SetGain selects manual gain, in dB.
func (d *Device) SetGain(ctx context.Context, gain float64) error {
	if err := d.command(ctx, cmdGainMode, 1); err != nil {
		return err
	}
	return d.command(ctx, cmdGain, uint32(math.Round(gain*10)))
}

func (d *Device) Tune(ctx context.Context, freq float64) error {
	if err := d.command(ctx, cmdFrequency, uint32(math.Round(freq))); err != nil {
		return err
	}
	if d.SettleSamples <= 0 {
		return nil
	}
	return d.discard(ctx, 2*d.SettleSamples)
}

func (d *Device) discard(ctx context.Context, n int) error {
	d.setReadDeadline(ctx)
	_, err := d.r.Discard(n)
	return err
}

func (d *Device) setReadDeadline(ctx context.Context) {
	deadline, _ := ctx.Deadline()
	d.conn.SetReadDeadline(deadline)
}

// ReadSamples fills buf, mapping each byte b to (b-127.5)/127.5.
func (d *Device) ReadSamples(ctx context.Context, buf []complex64) error {
	need := 2 * len(buf)
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	raw := d.raw[:need]
	d.setReadDeadline(ctx)
	if _, err := io.ReadFull(d.r, raw); err != nil {
		return fmt.Errorf("reading samples: %w", err)
	}
	for i := range buf {
		buf[i] = complex((float32(raw[2*i])-127.5)/127.5, (float32(raw[2*i+1])-127.5)/127.5)
	}
	return nil
}

func (d *Device) Close() error {
	return d.conn.Close()
}
