package eclink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/distributed/ecatlink/ecstatus"
)

// ProtocolVersion is sent in the Hello message of every session.
const ProtocolVersion uint16 = 1

// MaxPayload bounds the payload of a single message.
const MaxPayload = 64 * 1024

const headerLen = 5

type MsgType uint8

const (
	MsgHello MsgType = iota + 1
	MsgFrame
	MsgStatus
	MsgFault
	MsgBye
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "Hello"
	case MsgFrame:
		return "Frame"
	case MsgStatus:
		return "Status"
	case MsgFault:
		return "Fault"
	case MsgBye:
		return "Bye"
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

var (
	ErrPayloadSize = errors.New("eclink: payload too large")
	ErrMalformed   = errors.New("eclink: malformed message")
)

// VersionError is returned by a client whose peer speaks another protocol
// version.
type VersionError struct {
	Have, Want uint16
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("eclink: peer speaks protocol version %d, want %d", e.Have, e.Want)
}

// Msg is one message on a link connection: type, little endian payload
// length and payload.
type Msg struct {
	Type    MsgType
	Payload []byte
}

func (m Msg) MarshalBinary() ([]byte, error) {
	if len(m.Payload) > MaxPayload {
		return nil, ErrPayloadSize
	}
	b := make([]byte, headerLen+len(m.Payload))
	b[0] = byte(m.Type)
	binary.LittleEndian.PutUint32(b[1:], uint32(len(m.Payload)))
	copy(b[headerLen:], m.Payload)
	return b, nil
}

func WriteMsg(w io.Writer, m Msg) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func ReadMsg(r io.Reader) (Msg, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Msg{}, err
	}
	n := binary.LittleEndian.Uint32(hdr[1:])
	if n > MaxPayload {
		return Msg{}, ErrPayloadSize
	}
	m := Msg{Type: MsgType(hdr[0]), Payload: make([]byte, n)}
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Msg{}, err
	}
	return m, nil
}

type Hello struct {
	Version uint16
	Session uuid.UUID
}

func (h Hello) Msg() Msg {
	p := make([]byte, 2+len(h.Session))
	binary.LittleEndian.PutUint16(p, h.Version)
	copy(p[2:], h.Session[:])
	return Msg{Type: MsgHello, Payload: p}
}

func DecodeHello(m Msg) (Hello, error) {
	var h Hello
	if m.Type != MsgHello || len(m.Payload) != 2+len(h.Session) {
		return h, fmt.Errorf("%w: hello", ErrMalformed)
	}
	h.Version = binary.LittleEndian.Uint16(m.Payload)
	copy(h.Session[:], m.Payload[2:])
	return h, nil
}

func FrameMsg(frame []byte) Msg {
	return Msg{Type: MsgFrame, Payload: frame}
}

// StatusMsg encodes the slave index, the status kind and the message.
func StatusMsg(ev ecstatus.Event) Msg {
	text := ev.Status.Message()
	p := make([]byte, 3+len(text))
	binary.LittleEndian.PutUint16(p, ev.Slave)
	p[2] = byte(ev.Status.Kind())
	copy(p[3:], text)
	return Msg{Type: MsgStatus, Payload: p}
}

func DecodeStatus(m Msg) (ecstatus.Event, error) {
	if m.Type != MsgStatus || len(m.Payload) < 3 {
		return ecstatus.Event{}, fmt.Errorf("%w: status", ErrMalformed)
	}
	kind := ecstatus.Kind(m.Payload[2])
	if kind > ecstatus.KindLost {
		return ecstatus.Event{}, fmt.Errorf("%w: status kind %d", ErrMalformed, kind)
	}
	return ecstatus.Event{
		Slave:  binary.LittleEndian.Uint16(m.Payload),
		Status: ecstatus.New(kind, string(m.Payload[3:])),
	}, nil
}

func FaultMsg(err error) Msg {
	return Msg{Type: MsgFault, Payload: []byte(err.Error())}
}

// RemoteError is a fault reported by the master on the other end of a
// link.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return "eclink: remote: " + e.Msg }

func DecodeFault(m Msg) error {
	return &RemoteError{Msg: string(m.Payload)}
}

func ByeMsg() Msg { return Msg{Type: MsgBye} }
