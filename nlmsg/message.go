package nlmsg

import (
	"fmt"

	"github.com/josharian/native"
)

// HeaderLen is the size of struct nlmsghdr.
const HeaderLen = 16

// Message types interpreted by the connection engine itself; everything
// else is protocol data owned by the caller. From linux/netlink.h.
const (
	TypeNoop    uint16 = 0x1 // NLMSG_NOOP
	TypeError   uint16 = 0x2 // NLMSG_ERROR, also carries acks
	TypeDone    uint16 = 0x3 // NLMSG_DONE, terminates a multipart dump
	TypeOverrun uint16 = 0x4 // NLMSG_OVERRUN
)

// Header flags. The 0x100 "context dependent" range is listed twice, once
// with GET semantics and once with NEW semantics, just like the kernel
// header does.
const (
	FlagRequest uint16 = 0x1
	FlagMulti   uint16 = 0x2
	FlagAck     uint16 = 0x4
	FlagEcho    uint16 = 0x8

	FlagRoot   uint16 = 0x100
	FlagMatch  uint16 = 0x200
	FlagAtomic uint16 = 0x400
	FlagDump   uint16 = FlagRoot | FlagMatch

	FlagReplace uint16 = 0x100
	FlagExcl    uint16 = 0x200
	FlagCreate  uint16 = 0x400
	FlagAppend  uint16 = 0x800

	// FlagAckTLVs on an NLMSG_ERROR means extended ack attributes follow
	// the echoed request header.
	FlagAckTLVs uint16 = 0x200
)

// hostEndian is the byte order of nearly every netlink field; the few
// fixed big-endian fields are called out explicitly by their accessors.
var hostEndian = native.Endian

// A Header is the fixed struct nlmsghdr preceding every netlink message.
// All fields are host byte order.
type Header struct {
	Length   uint32
	Type     uint16
	Flags    uint16
	Sequence uint32
	PID      uint32
}

// A Message is a netlink message: a header plus its payload. On the
// decode side Data aliases the receive buffer; callers that retain a
// Message past the buffer's lifetime must copy it.
type Message struct {
	Header Header
	Data   []byte
}

// Align rounds n up to the next 4-byte boundary (NLMSG_ALIGN).
func Align(n int) int {
	return (n + 3) &^ 3
}

// Marshal encodes a message, fixing up the header length and padding the
// result so successive messages stay 4-byte aligned. The payload must
// already be in final encoded form.
func Marshal(m Message) []byte {
	m.Header.Length = uint32(HeaderLen + len(m.Data))

	b := make([]byte, Align(HeaderLen+len(m.Data)))
	hostEndian.PutUint32(b[0:4], m.Header.Length)
	hostEndian.PutUint16(b[4:6], m.Header.Type)
	hostEndian.PutUint16(b[6:8], m.Header.Flags)
	hostEndian.PutUint32(b[8:12], m.Header.Sequence)
	hostEndian.PutUint32(b[12:16], m.Header.PID)
	copy(b[HeaderLen:], m.Data)

	return b
}

// ParseMessages splits a receive buffer into its messages without copying
// payload bytes. Each header's declared length governs where its payload
// ends and, after alignment, where the next message starts. A declared
// length smaller than the header or past the end of the buffer fails with
// ErrFraming; nothing is ever read out of bounds.
func ParseMessages(b []byte) ([]Message, error) {
	var msgs []Message

	for len(b) > 0 {
		if len(b) < HeaderLen {
			return nil, fmt.Errorf("%w: %d trailing bytes cannot hold a header", ErrFraming, len(b))
		}

		h := Header{
			Length:   hostEndian.Uint32(b[0:4]),
			Type:     hostEndian.Uint16(b[4:6]),
			Flags:    hostEndian.Uint16(b[6:8]),
			Sequence: hostEndian.Uint32(b[8:12]),
			PID:      hostEndian.Uint32(b[12:16]),
		}
		if h.Length < HeaderLen {
			return nil, fmt.Errorf("%w: declared length %d smaller than header", ErrFraming, h.Length)
		}
		if int(h.Length) > len(b) {
			return nil, fmt.Errorf("%w: declared length %d exceeds %d buffered bytes", ErrFraming, h.Length, len(b))
		}

		msgs = append(msgs, Message{Header: h, Data: b[HeaderLen:h.Length]})

		// The final message of a datagram may omit its trailing pad.
		next := Align(int(h.Length))
		if next > len(b) {
			next = len(b)
		}
		b = b[next:]
	}

	return msgs, nil
}
