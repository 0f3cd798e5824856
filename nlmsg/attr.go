package nlmsg

import (
	"encoding/binary"
	"fmt"
	"math"
)

const attrHeaderLen = 4

// Flag bits carried in the high bits of an attribute's type field, from
// linux/netlink.h. They are masked off during parsing; Attribute.Type is
// always the bare type code.
const (
	FlagNested       uint16 = 0x8000 // NLA_F_NESTED
	FlagNetByteorder uint16 = 0x4000 // NLA_F_NET_BYTE_ORDER
	TypeMask         uint16 = 0x3fff // NLA_TYPE_MASK
)

// An Attribute is one decoded TLV. Data aliases the parsed buffer and
// excludes the trailing alignment padding.
type Attribute struct {
	Type  uint16 // type code with NLA_F_* bits masked off
	Flags uint16 // the masked-off NLA_F_* bits
	Data  []byte
}

// Nested re-parses the attribute's payload as a child attribute list.
// Whether a given type code is a container is protocol schema the caller
// must know; the codec never guesses.
func (a Attribute) Nested() (Attributes, error) {
	return ParseAttributes(a.Data)
}

func (a Attribute) length(want int) error {
	if len(a.Data) != want {
		return fmt.Errorf("%w: attribute %d holds %d bytes, want %d", ErrAttributeDecode, a.Type, len(a.Data), want)
	}
	return nil
}

func (a Attribute) Uint8() (uint8, error) {
	if err := a.length(1); err != nil {
		return 0, err
	}
	return a.Data[0], nil
}

func (a Attribute) Uint16() (uint16, error) {
	if err := a.length(2); err != nil {
		return 0, err
	}
	return hostEndian.Uint16(a.Data), nil
}

func (a Attribute) Uint32() (uint32, error) {
	if err := a.length(4); err != nil {
		return 0, err
	}
	return hostEndian.Uint32(a.Data), nil
}

func (a Attribute) Uint64() (uint64, error) {
	if err := a.length(8); err != nil {
		return 0, err
	}
	return hostEndian.Uint64(a.Data), nil
}

func (a Attribute) Int32() (int32, error) {
	v, err := a.Uint32()
	return int32(v), err
}

// Uint16Be decodes a protocol-mandated big-endian field, e.g. a transport
// port number.
func (a Attribute) Uint16Be() (uint16, error) {
	if err := a.length(2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(a.Data), nil
}

// Uint32Be decodes a protocol-mandated big-endian field, e.g. a label
// stack entry.
func (a Attribute) Uint32Be() (uint32, error) {
	if err := a.length(4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(a.Data), nil
}

// String decodes a NUL-terminated string attribute. A missing terminator
// is tolerated; kernel interfaces are not consistent about emitting one.
func (a Attribute) String() string {
	b := a.Data
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b)
}

// Attributes is an ordered attribute list, as decoded from one payload or
// one container attribute. Order is the kernel's emission order.
type Attributes []Attribute

// First returns the first attribute carrying the given type code.
func (as Attributes) First(typ uint16) (Attribute, bool) {
	for _, a := range as {
		if a.Type == typ {
			return a, true
		}
	}
	return Attribute{}, false
}

// All returns every attribute carrying the given type code, preserving
// order. Repeated codes are legal; multipath hop lists rely on it.
func (as Attributes) All(typ uint16) []Attribute {
	var out []Attribute
	for _, a := range as {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

// ParseAttributes scans a payload as a TLV attribute list. The scan must
// land exactly on the end of the buffer: leftover bytes that cannot hold
// an attribute header, a declared length shorter than the header, or one
// overrunning the buffer all fail with ErrAttributeDecode. Payload slices
// alias the input.
func ParseAttributes(b []byte) (Attributes, error) {
	var attrs Attributes

	for len(b) > 0 {
		if len(b) < attrHeaderLen {
			return nil, fmt.Errorf("%w: %d leftover bytes", ErrAttributeDecode, len(b))
		}

		l := int(hostEndian.Uint16(b[0:2]))
		typ := hostEndian.Uint16(b[2:4])

		if l < attrHeaderLen {
			return nil, fmt.Errorf("%w: declared length %d smaller than attribute header", ErrAttributeDecode, l)
		}
		if l > len(b) {
			return nil, fmt.Errorf("%w: declared length %d exceeds %d remaining bytes", ErrAttributeDecode, l, len(b))
		}

		attrs = append(attrs, Attribute{
			Type:  typ & TypeMask,
			Flags: typ &^ TypeMask,
			Data:  b[attrHeaderLen:l],
		})

		// Skip the pad; it is not part of any payload. The last
		// attribute may omit it.
		next := Align(l)
		if next > len(b) {
			next = len(b)
		}
		b = b[next:]
	}

	return attrs, nil
}

// An AttrEncoder builds an attribute list depth first, preserving the
// insertion order of siblings; some kernel-side parsers are order
// sensitive. Errors are deferred: the first one sticks and is reported by
// Encode, so call sites can chain appends without per-call checks.
type AttrEncoder struct {
	b   []byte
	err error
}

func NewAttrEncoder() *AttrEncoder {
	return &AttrEncoder{}
}

func (e *AttrEncoder) header(typ uint16, payloadLen int) {
	if e.err != nil {
		return
	}
	l := attrHeaderLen + payloadLen
	if l > math.MaxUint16 {
		e.err = fmt.Errorf("nlmsg: attribute %d payload of %d bytes overflows length field", typ&TypeMask, payloadLen)
		return
	}
	e.b = append(e.b,
		byte(0), byte(0), // patched below
		byte(0), byte(0),
	)
	hostEndian.PutUint16(e.b[len(e.b)-4:], uint16(l))
	hostEndian.PutUint16(e.b[len(e.b)-2:], typ)
}

func (e *AttrEncoder) pad() {
	for len(e.b)%4 != 0 {
		e.b = append(e.b, 0)
	}
}

// Bytes appends an attribute holding an opaque payload.
func (e *AttrEncoder) Bytes(typ uint16, v []byte) {
	e.header(typ, len(v))
	if e.err != nil {
		return
	}
	e.b = append(e.b, v...)
	e.pad()
}

// Flag appends a zero-length attribute; presence is the value.
func (e *AttrEncoder) Flag(typ uint16) {
	e.header(typ, 0)
}

func (e *AttrEncoder) Uint8(typ uint16, v uint8) {
	e.Bytes(typ, []byte{v})
}

func (e *AttrEncoder) Uint16(typ uint16, v uint16) {
	var b [2]byte
	hostEndian.PutUint16(b[:], v)
	e.Bytes(typ, b[:])
}

func (e *AttrEncoder) Uint32(typ uint16, v uint32) {
	var b [4]byte
	hostEndian.PutUint32(b[:], v)
	e.Bytes(typ, b[:])
}

func (e *AttrEncoder) Uint64(typ uint16, v uint64) {
	var b [8]byte
	hostEndian.PutUint64(b[:], v)
	e.Bytes(typ, b[:])
}

func (e *AttrEncoder) Int32(typ uint16, v int32) {
	e.Uint32(typ, uint32(v))
}

// Uint16Be appends a protocol-mandated big-endian field.
func (e *AttrEncoder) Uint16Be(typ uint16, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.Bytes(typ, b[:])
}

// Uint32Be appends a protocol-mandated big-endian field.
func (e *AttrEncoder) Uint32Be(typ uint16, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.Bytes(typ, b[:])
}

// String appends a NUL-terminated string attribute.
func (e *AttrEncoder) String(typ uint16, v string) {
	e.header(typ, len(v)+1)
	if e.err != nil {
		return
	}
	e.b = append(e.b, v...)
	e.b = append(e.b, 0)
	e.pad()
}

// Nested appends a container attribute whose payload is built by fn. The
// container's length is patched back once the children are encoded, and
// the NLA_F_NESTED bit is set on its type.
func (e *AttrEncoder) Nested(typ uint16, fn func(*AttrEncoder) error) {
	if e.err != nil {
		return
	}

	start := len(e.b)
	e.header(typ|FlagNested, 0)
	if err := fn(e); err != nil && e.err == nil {
		e.err = err
	}
	if e.err != nil {
		return
	}

	l := len(e.b) - start
	if l > math.MaxUint16 {
		e.err = fmt.Errorf("nlmsg: nested attribute %d of %d bytes overflows length field", typ, l)
		return
	}
	hostEndian.PutUint16(e.b[start:], uint16(l))
	// Children are themselves aligned, so no trailing pad is due here.
}

// Encode returns the encoded attribute list, or the first error any
// append encountered. Encoding the same tree twice is byte identical.
func (e *AttrEncoder) Encode() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.b, nil
}
