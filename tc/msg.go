package tc

import (
	"fmt"

	"github.com/scitags/nlkit/nlmsg"
)

const sizeofTcmsg = 20

// Msg is struct tcmsg, the fixed header of every traffic-control
// message: which interface, which object within its tree, and for
// filters the priority/protocol word.
type Msg struct {
	Family  uint8
	Ifindex int32
	Handle  uint32
	Parent  uint32
	Info    uint32
}

func (m Msg) marshal() []byte {
	w := nlmsg.NewStructWriter(sizeofTcmsg)
	w.PutByte(m.Family)
	w.Pad(3)
	w.PutInt32(m.Ifindex)
	w.PutUint32(m.Handle)
	w.PutUint32(m.Parent)
	w.PutUint32(m.Info)
	b, _ := w.Bytes()
	return b
}

// splitMsg slices one reply payload into its tcmsg header and the
// attribute list that follows.
func splitMsg(data []byte) (Msg, nlmsg.Attributes, error) {
	if len(data) < sizeofTcmsg {
		return Msg{}, nil, fmt.Errorf("%w: tc message of %d bytes", nlmsg.ErrInvalidLength, len(data))
	}

	v, err := nlmsg.NewStructView(data[:sizeofTcmsg], sizeofTcmsg)
	if err != nil {
		return Msg{}, nil, err
	}
	m := Msg{Family: v.Byte()}
	v.Skip(3)
	m.Ifindex = v.Int32()
	m.Handle = v.Uint32()
	m.Parent = v.Uint32()
	m.Info = v.Uint32()
	if err := v.Err(); err != nil {
		return Msg{}, nil, err
	}

	attrs, err := nlmsg.ParseAttributes(data[sizeofTcmsg:])
	if err != nil {
		return Msg{}, nil, err
	}
	return m, attrs, nil
}

// Well-known handles, from linux/pkt_sched.h.
const (
	HandleNone    uint32 = 0
	HandleRoot    uint32 = 0xFFFFFFFF // TC_H_ROOT
	HandleIngress uint32 = 0xFFFFFFF1 // TC_H_INGRESS, also clsact's handle

	// Parent minors addressing the two clsact hooks.
	HandleMinIngress uint16 = 0xFFF2
	HandleMinEgress  uint16 = 0xFFF3
)

// NewHandle packs a major:minor handle pair.
func NewHandle(maj, min uint16) uint32 {
	return uint32(maj)<<16 | uint32(min)
}

// MajMin unpacks a handle into its major:minor pair.
func MajMin(h uint32) (maj, min uint16) {
	return uint16(h >> 16), uint16(h & 0xFFFF)
}
