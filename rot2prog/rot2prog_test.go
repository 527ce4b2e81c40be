package rot2prog

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/w1xm/salsa_interface/coords"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCommandBytes(t *testing.T) {
	for _, test := range []struct {
		name string
		cmd  Command
		want string
	}{
		{"stop", StopCommand(), "57000000000000000000000F20"},
		{"restart", RestartCommand(), "57EFBEADDE000000000000EE20"},
		{"get direction", GetDirectionCommand(), "57000000000000000000006F20"},
		{"set zenith", SetDirectionCommand(coords.Direction{Azimuth: 0, Altitude: math.Pi / 2}), "57333630303034353030305F20"},
		{"set origin", SetDirectionCommand(coords.Direction{}), "57333630303033363030305F20"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if diff := cmp.Diff(test.cmd.Bytes(), mustHex(t, test.want)); diff != "" {
				t.Errorf("unexpected frame: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestEncodeAngle(t *testing.T) {
	for _, test := range []struct {
		deg  float64
		want string
	}{
		{0, "36000"},
		{5.54, "36554"},
		{90, "45000"},
		{-90, "27000"},
		{359.99, "71999"},
	} {
		got := EncodeAngle(coords.Deg2Rad(test.deg))
		if string(got[:]) != test.want {
			t.Errorf("EncodeAngle(%v) = %q, want %q", test.deg, got[:], test.want)
		}
	}
}

func TestAngleRoundTrip(t *testing.T) {
	var worst float64
	for deg := -180.0; deg < 180; deg += 0.0037 {
		enc := EncodeAngle(coords.Deg2Rad(deg))
		got, err := DecodeAngle(enc[:])
		if err != nil {
			t.Fatalf("DecodeAngle(EncodeAngle(%v°)): %v", deg, err)
		}
		worst = math.Max(worst, math.Abs(coords.Rad2Deg(got)-deg))
	}
	if worst > 0.01 {
		t.Errorf("worst round trip error %v°, want at most 0.01°", worst)
	}
}

func TestDecodeAngle(t *testing.T) {
	for _, test := range []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{"3338323333", 22.33, false},
		{"0308020303", 22.33, false},
		{"0306000000", 0, false},
		{"3336353534", 5.54, false},
		{"333635353A", 0, true},
		{"FF00000000", 0, true},
	} {
		t.Run(test.input, func(t *testing.T) {
			got, err := DecodeAngle(mustHex(t, test.input))
			if (err != nil) != test.wantErr {
				t.Fatalf("DecodeAngle error = %v, wantErr %v", err, test.wantErr)
			}
			if err == nil && math.Abs(coords.Rad2Deg(got)-test.want) > 1e-9 {
				t.Errorf("DecodeAngle = %v°, want %v°", coords.Rad2Deg(got), test.want)
			}
		})
	}
}

func TestParseAck(t *testing.T) {
	for _, test := range []struct {
		input   string
		wantErr bool
	}{
		{"570000000000000000000020", false},
		{"560000000000000000000020", true},
		{"5700000000000000000020", true},
		{"570000000000000000000021", true},
		{"57000000000000000000002000", true},
	} {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseAck(mustHex(t, test.input), "stop")
			if test.wantErr {
				var ioErr *IOError
				if !errors.As(err, &ioErr) {
					t.Fatalf("ParseAck = %+v, %v; want IOError", got, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Kind != Ack {
				t.Errorf("ParseAck kind = %v, want Ack", got.Kind)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	approx := cmpopts.EquateApprox(0, 1e-9)
	for _, test := range []struct {
		input   string
		want    coords.Direction
		wantErr bool
	}{
		{"580306000000030600000020", coords.Direction{}, false},
		{"583336303030333630303020", coords.Direction{}, false},
		{"583338323333343530303020", coords.Direction{Azimuth: coords.Deg2Rad(22.33), Altitude: coords.Deg2Rad(90)}, false},
		{"570306000000030600000020", coords.Direction{}, true},
		{"5803060000000306000020", coords.Direction{}, true},
		{"58030600000003060000003A", coords.Direction{}, true},
		{"5803060000000306000000", coords.Direction{}, true},
	} {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseDirection(mustHex(t, test.input), "get direction")
			if (err != nil) != test.wantErr {
				t.Fatalf("ParseDirection error = %v, wantErr %v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(got, Response{Kind: CurrentDirection, Direction: test.want}, approx); diff != "" {
				t.Errorf("unexpected response: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	for _, cmd := range []Command{
		StopCommand(),
		RestartCommand(),
		GetDirectionCommand(),
		SetDirectionCommand(coords.Direction{Azimuth: coords.Deg2Rad(123.45), Altitude: coords.Deg2Rad(67.89)}),
	} {
		t.Run(cmd.Kind.String(), func(t *testing.T) {
			got, err := DecodeCommand(cmd.Bytes())
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(got, cmd, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("unexpected command: got(-)/want(+):\n%s", diff)
			}
		})
	}
	if _, err := DecodeCommand([]byte{0x57, 0x20}); err == nil {
		t.Error("DecodeCommand accepted a truncated frame")
	}
}

// scriptedPort answers every write with the next canned response.
type scriptedPort struct {
	responses [][]byte
	written   bytes.Buffer
	pending   []byte
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.written.Write(b)
	if len(p.responses) > 0 {
		p.pending, p.responses = p.responses[0], p.responses[1:]
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	// Deliver in two pieces to exercise reassembly.
	n := copy(b, p.pending[:(len(p.pending)+1)/2])
	p.pending = p.pending[n:]
	return n, nil
}

func (p *scriptedPort) Close() error { return nil }

func TestConnExecute(t *testing.T) {
	port := &scriptedPort{
		responses: [][]byte{
			mustHex(t, "570000000000000000000020"),
			mustHex(t, "580306000000030600000020"),
			mustHex(t, "5600000000000000000020"),
		},
	}
	conn := NewConn(port, 0)

	resp, err := conn.Execute(StopCommand())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if resp.Kind != Ack {
		t.Errorf("stop: got %+v, want ack", resp)
	}

	resp, err = conn.Execute(GetDirectionCommand())
	if err != nil {
		t.Fatalf("get direction: %v", err)
	}
	if diff := cmp.Diff(resp, Response{Kind: CurrentDirection}, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("unexpected response: got(-)/want(+):\n%s", diff)
	}

	var ioErr *IOError
	if _, err := conn.Execute(RestartCommand()); !errors.As(err, &ioErr) {
		t.Errorf("restart: got %v, want IOError", err)
	}

	if _, err := conn.Execute(StopCommand()); !errors.As(err, &ioErr) {
		t.Errorf("stop with no reply: got %v, want IOError", err)
	}

	want := append(append(append(StopCommand().Bytes(), GetDirectionCommand().Bytes()...), RestartCommand().Bytes()...), StopCommand().Bytes()...)
	if diff := cmp.Diff(port.written.Bytes(), want); diff != "" {
		t.Errorf("unexpected writes: got(-)/want(+):\n%s", diff)
	}
}

func TestNewDialer(t *testing.T) {
	for _, test := range []struct {
		address string
		want    Dialer
		wantErr bool
	}{
		{"localhost:23", TCPDialer{Address: "localhost:23"}, false},
		{"serial:///dev/ttyUSB0", SerialDialer{Port: "/dev/ttyUSB0"}, false},
		{"serial:///dev/ttyUSB0?baud=1200", SerialDialer{Port: "/dev/ttyUSB0", Baud: 1200}, false},
		{"serial:COM3?baud=600", SerialDialer{Port: "COM3", Baud: 600}, false},
		{"serial:///dev/ttyUSB0?baud=fast", nil, true},
		{"serial://", nil, true},
	} {
		t.Run(test.address, func(t *testing.T) {
			got, err := NewDialer(test.address, 0)
			if (err != nil) != test.wantErr {
				t.Fatalf("NewDialer error = %v, wantErr %v", err, test.wantErr)
			}
			if diff := cmp.Diff(got, test.want); diff != "" {
				t.Errorf("unexpected dialer: got(-)/want(+):\n%s", diff)
			}
		})
	}
}
