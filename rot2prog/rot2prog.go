// Package rot2prog implements the SPID Rot2Prog rotator controller protocol.
//
// Requests are 13 byte frames and responses are 12 byte frames. Angles are
// sent as five decimal digits of (degrees+360)*100.
package rot2prog

import (
	"fmt"
	"math"

	"github.com/w1xm/salsa_interface/coords"
)

const (
	RequestLength  = 13
	ResponseLength = 12

	requestMarker   = 0x57
	directionMarker = 0x58
	trailer         = 0x20
	digitOffset     = 0x30

	stopID         = 0x0F
	restartID      = 0xEE
	getDirectionID = 0x6F
	setDirectionID = 0x5F
)

// IOError is a transport or protocol fault against the controller.
type IOError struct {
	Message string
}

func (e *IOError) Error() string {
	return "error in communication with telescope: " + e.Message
}

func ioErrorf(format string, args ...interface{}) *IOError {
	return &IOError{Message: fmt.Sprintf(format, args...)}
}

type CommandKind int

const (
	Stop CommandKind = iota
	Restart
	GetDirection
	SetDirection
)

func (k CommandKind) String() string {
	switch k {
	case Stop:
		return "stop"
	case Restart:
		return "restart"
	case GetDirection:
		return "get direction"
	case SetDirection:
		return "set direction"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Command is a request to the controller. Direction is only meaningful for
// SetDirection.
type Command struct {
	Kind      CommandKind
	Direction coords.Direction
}

func StopCommand() Command         { return Command{Kind: Stop} }
func RestartCommand() Command      { return Command{Kind: Restart} }
func GetDirectionCommand() Command { return Command{Kind: GetDirection} }

func SetDirectionCommand(dir coords.Direction) Command {
	return Command{Kind: SetDirection, Direction: dir}
}

var (
	stopFrame         = [RequestLength]byte{0x57, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x0F, 0x20}
	restartFrame      = [RequestLength]byte{0x57, 0xEF, 0xBE, 0xAD, 0xDE, 0, 0, 0, 0, 0, 0, 0xEE, 0x20}
	getDirectionFrame = [RequestLength]byte{0x57, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x6F, 0x20}
)

// Bytes encodes the command as a request frame.
func (c Command) Bytes() []byte {
	var frame [RequestLength]byte
	switch c.Kind {
	case Stop:
		frame = stopFrame
	case Restart:
		frame = restartFrame
	case GetDirection:
		frame = getDirectionFrame
	case SetDirection:
		frame[0] = requestMarker
		az := EncodeAngle(c.Direction.Azimuth)
		el := EncodeAngle(c.Direction.Altitude)
		copy(frame[1:6], az[:])
		copy(frame[6:11], el[:])
		frame[11] = setDirectionID
		frame[12] = trailer
	}
	return frame[:]
}

// DecodeCommand parses a request frame, as a controller would.
func DecodeCommand(frame []byte) (Command, error) {
	if len(frame) != RequestLength || frame[0] != requestMarker || frame[RequestLength-1] != trailer {
		return Command{}, ioErrorf("malformed request % X", frame)
	}
	switch frame[11] {
	case stopID:
		return StopCommand(), nil
	case restartID:
		return RestartCommand(), nil
	case getDirectionID:
		return GetDirectionCommand(), nil
	case setDirectionID:
		az, err := DecodeAngle(frame[1:6])
		if err != nil {
			return Command{}, err
		}
		el, err := DecodeAngle(frame[6:11])
		if err != nil {
			return Command{}, err
		}
		return SetDirectionCommand(coords.Direction{Azimuth: az, Altitude: el}), nil
	}
	return Command{}, ioErrorf("unknown command identifier %02X", frame[11])
}

// parseResponse maps a response frame to the command that produced it.
func (c Command) parseResponse(frame []byte) (Response, error) {
	switch c.Kind {
	case GetDirection, SetDirection:
		return ParseDirection(frame, c.Kind.String())
	default:
		return ParseAck(frame, c.Kind.String())
	}
}

type ResponseKind int

const (
	Ack ResponseKind = iota
	CurrentDirection
)

// Response is a decoded controller reply.
type Response struct {
	Kind      ResponseKind
	Direction coords.Direction
}

// Bytes encodes the response as the controller would send it.
func (r Response) Bytes() []byte {
	var frame [ResponseLength]byte
	frame[ResponseLength-1] = trailer
	switch r.Kind {
	case Ack:
		frame[0] = requestMarker
	case CurrentDirection:
		frame[0] = directionMarker
		az := EncodeAngle(r.Direction.Azimuth)
		el := EncodeAngle(r.Direction.Altitude)
		copy(frame[1:6], az[:])
		copy(frame[6:11], el[:])
	}
	return frame[:]
}

// ParseAck accepts exactly a 12 byte frame framed by the ack marker and the
// trailer.
func ParseAck(frame []byte, command string) (Response, error) {
	if len(frame) == ResponseLength && frame[0] == requestMarker && frame[ResponseLength-1] == trailer {
		return Response{Kind: Ack}, nil
	}
	return Response{}, ioErrorf("unexpected response to %s command: [% X]", command, frame)
}

// ParseDirection accepts exactly a 12 byte frame framed by the direction
// marker and the trailer, with azimuth in bytes 1-5 and elevation in 6-10.
func ParseDirection(frame []byte, command string) (Response, error) {
	if len(frame) != ResponseLength || frame[0] != directionMarker || frame[ResponseLength-1] != trailer {
		return Response{}, ioErrorf("unexpected response to %s command: [% X]", command, frame)
	}
	az, err := DecodeAngle(frame[1:6])
	if err != nil {
		return Response{}, ioErrorf("unexpected response to %s command: [% X]: %v", command, frame, err)
	}
	el, err := DecodeAngle(frame[6:11])
	if err != nil {
		return Response{}, ioErrorf("unexpected response to %s command: [% X]: %v", command, frame, err)
	}
	return Response{
		Kind:      CurrentDirection,
		Direction: coords.Direction{Azimuth: az, Altitude: el},
	}, nil
}

// EncodeAngle encodes an angle in radians as five ASCII digits of
// (degrees+360)*100, most significant first. Values outside the
// representable range are clamped.
func EncodeAngle(angle float64) [5]byte {
	v := math.Round((coords.Rad2Deg(angle) + 360) * 100)
	if v < 0 {
		v = 0
	} else if v > 99999 {
		v = 99999
	}
	n := int(v)
	var out [5]byte
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = byte(n%10) + digitOffset
		n /= 10
	}
	return out
}

// DecodeAngle is the inverse of EncodeAngle. The controller documentation
// specifies ASCII digits but deployed units answer with raw digit values, so
// both 0x00-0x09 and '0'-'9' are accepted.
func DecodeAngle(digits []byte) (float64, error) {
	n := 0
	for _, d := range digits {
		switch {
		case d <= 9:
		case d >= '0' && d <= '9':
			d -= digitOffset
		default:
			return 0, fmt.Errorf("invalid digit %02X", d)
		}
		n = n*10 + int(d)
	}
	return coords.Deg2Rad(float64(n)/100 - 360), nil
}
