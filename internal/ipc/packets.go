// Package ipc is the duplex channel between the render host and the
// sub-applications it embeds (material browser, help viewer). Messages
// are (verb, payload) packets framed as a little-endian verb id, a
// payload length and the payload.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Verb identifies a message.
type Verb uint16

const (
	// VerbWinID carries the native window id of a sub-application, for
	// the host to embed it.
	VerbWinID Verb = 0x0001
	// VerbClose asks the peer to close.
	VerbClose Verb = 0x0002
	// VerbMaterial carries the path of a material card to import.
	VerbMaterial Verb = 0x0003
	// VerbImageLight carries the path of an environment image.
	VerbImageLight Verb = 0x0004
	// VerbDetach asks the host to release an embedded window.
	VerbDetach Verb = 0x0005
	// VerbAppName carries the name of the sub-application.
	VerbAppName Verb = 0x0006
	// VerbRelease tells the peer the sender no longer owns its window.
	VerbRelease Verb = 0x0007
)

var verbNames = map[Verb]string{
	VerbWinID:      "WINID",
	VerbClose:      "CLOSE",
	VerbMaterial:   "MATERIAL",
	VerbImageLight: "IMAGELIGHT",
	VerbDetach:     "DETACH",
	VerbAppName:    "APPNAME",
	VerbRelease:    "RELEASE",
}

func (v Verb) String() string {
	if n, ok := verbNames[v]; ok {
		return n
	}
	return fmt.Sprintf("Verb(0x%04x)", uint16(v))
}

// HeaderSize is the size of the packet header: verb id and payload length.
const HeaderSize = 6

// MaxPayload bounds the payload of a packet.
const MaxPayload = 1 << 20

var (
	ErrUnknownVerb     = errors.New("unknown verb")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrBadPayload      = errors.New("malformed payload")
)

// Message is a decoded packet.
type Message struct {
	Verb    Verb
	Payload []byte
}

// Size returns the encoded size of m.
func (m Message) Size() int {
	return HeaderSize + len(m.Payload)
}

// Encode encodes the packet to bytes.
func (m Message) Encode() []byte {
	buf := make([]byte, m.Size())
	binary.LittleEndian.PutUint16(buf[0:], uint16(m.Verb))
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// ReadMessage reads one packet from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	m := Message{Verb: Verb(binary.LittleEndian.Uint16(hdr[0:]))}
	n := binary.LittleEndian.Uint32(hdr[2:])
	if n > MaxPayload {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	m.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		return Message{}, fmt.Errorf("reading %s payload: %w", m.Verb, err)
	}
	// unknown verbs are consumed whole so the stream stays in sync
	if _, ok := verbNames[m.Verb]; !ok {
		return m, fmt.Errorf("%w: 0x%04x", ErrUnknownVerb, uint16(m.Verb))
	}
	return m, nil
}

// WinID builds a WINID packet.
func WinID(id uint64) Message {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint64(p, id)
	return Message{Verb: VerbWinID, Payload: p}
}

// Text builds a packet carrying a string: MATERIAL, IMAGELIGHT or APPNAME.
func Text(v Verb, s string) Message {
	return Message{Verb: v, Payload: []byte(s)}
}

// Signal builds a packet without payload: CLOSE, DETACH or RELEASE.
func Signal(v Verb) Message {
	return Message{Verb: v}
}

// WinID decodes the payload of a WINID packet.
func (m Message) WinID() (uint64, error) {
	if m.Verb != VerbWinID || len(m.Payload) != 8 {
		return 0, fmt.Errorf("%w: %s of %d bytes", ErrBadPayload, m.Verb, len(m.Payload))
	}
	return binary.LittleEndian.Uint64(m.Payload), nil
}

// Text returns the payload as a string.
func (m Message) Text() string { return string(m.Payload) }
