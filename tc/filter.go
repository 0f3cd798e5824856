package tc

import (
	"fmt"

	"github.com/scitags/nlkit/nlmsg"
)

// Ethertypes filters bind to, in host order; the wire wants them
// network order and the codec converts.
const (
	ProtoAll  uint16 = 0x0003 // ETH_P_ALL
	ProtoIP   uint16 = 0x0800
	ProtoIPv6 uint16 = 0x86DD
)

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// FilterOptions is the kind-specific half of a filter.
type FilterOptions interface {
	kind() string
	encode(e *nlmsg.AttrEncoder) error
}

// A Filter is one classifier attached to a qdisc or class. Priority
// orders filters on the same parent, lowest first; Protocol limits the
// filter to one ethertype. Chain selects a filter chain other than
// chain 0.
type Filter struct {
	Ifindex  int32
	Handle   uint32
	Parent   uint32
	Priority uint16
	Protocol uint16
	Chain    *uint32
	Kind     string
	Options  FilterOptions
}

// info packs the priority/protocol word of tcmsg for filter messages.
func (f *Filter) info() uint32 {
	return uint32(f.Priority)<<16 | uint32(htons(f.Protocol))
}

func (f *Filter) marshal() ([]byte, error) {
	kind := f.Kind
	if f.Options != nil {
		kind = f.Options.kind()
	}

	e := nlmsg.NewAttrEncoder()
	if kind != "" {
		e.String(tcaKind, kind)
	}
	if f.Chain != nil {
		e.Uint32(tcaChain, *f.Chain)
	}
	if f.Options != nil {
		if err := f.Options.encode(e); err != nil {
			return nil, err
		}
	}
	attrs, err := e.Encode()
	if err != nil {
		return nil, err
	}

	m := Msg{Ifindex: f.Ifindex, Handle: f.Handle, Parent: f.Parent, Info: f.info()}
	return append(m.marshal(), attrs...), nil
}

func decodeFilter(data []byte) (Filter, error) {
	m, attrs, err := splitMsg(data)
	if err != nil {
		return Filter{}, err
	}

	f := Filter{
		Ifindex:  m.Ifindex,
		Handle:   m.Handle,
		Parent:   m.Parent,
		Priority: uint16(m.Info >> 16),
		Protocol: htons(uint16(m.Info)),
	}
	if a, ok := attrs.First(tcaKind); ok {
		f.Kind = a.String()
	}
	if a, ok := attrs.First(tcaChain); ok {
		chain, err := a.Uint32()
		if err != nil {
			return Filter{}, err
		}
		f.Chain = &chain
	}
	if a, ok := attrs.First(tcaOptions); ok {
		switch f.Kind {
		case "u32":
			f.Options, err = decodeU32(a)
		case "fw":
			f.Options, err = decodeFw(a)
		}
		if err != nil {
			return Filter{}, fmt.Errorf("tc: %s filter on ifindex %d: %w", f.Kind, f.Ifindex, err)
		}
	}
	return f, nil
}

const (
	sizeofU32SelHdr = 16
	sizeofU32Key    = 16
)

// A U32Key matches 32 bits of packet at a given offset: the packet
// word, masked, must equal Val. Val and Mask are in host order; the
// selector carries them big-endian and the codec converts.
type U32Key struct {
	Mask    uint32
	Val     uint32
	Off     int32 // byte offset into the packet, 4-byte aligned
	OffMask int32
}

// U32 matches packets against a list of masked 32-bit comparisons; all
// keys must match. A match classifies to ClassID and runs Actions.
type U32 struct {
	ClassID uint32
	Keys    []U32Key
	Actions []Action
}

func (*U32) kind() string { return "u32" }

func (u *U32) encode(e *nlmsg.AttrEncoder) error {
	if len(u.Keys) > 255 {
		return fmt.Errorf("tc: u32 selector holds %d keys, max 255", len(u.Keys))
	}

	w := nlmsg.NewStructWriter(sizeofU32SelHdr + len(u.Keys)*sizeofU32Key)
	w.PutByte(selTerminal)
	w.PutByte(0) // offshift
	w.PutByte(uint8(len(u.Keys)))
	w.PutByte(0)       // pad
	w.PutUint16Be(0)   // offmask
	w.PutUint16(0)     // off
	w.PutInt16(0)      // offoff
	w.PutInt16(0)      // hoff
	w.PutUint32Be(0)   // hmask
	for _, k := range u.Keys {
		w.PutUint32Be(k.Mask)
		w.PutUint32Be(k.Val)
		w.PutInt32(k.Off)
		w.PutInt32(k.OffMask)
	}
	sel, err := w.Bytes()
	if err != nil {
		return err
	}

	e.Nested(tcaOptions, func(e *nlmsg.AttrEncoder) error {
		e.Bytes(tcaU32Sel, sel)
		if u.ClassID != 0 {
			e.Uint32(tcaU32Classid, u.ClassID)
		}
		if len(u.Actions) > 0 {
			encodeActions(e, tcaU32Act, u.Actions)
		}
		return nil
	})
	return nil
}

func decodeU32(opt nlmsg.Attribute) (*U32, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}

	var u U32
	if a, ok := attrs.First(tcaU32Classid); ok {
		if u.ClassID, err = a.Uint32(); err != nil {
			return nil, err
		}
	}
	if a, ok := attrs.First(tcaU32Sel); ok {
		if len(a.Data) < sizeofU32SelHdr {
			return nil, fmt.Errorf("%w: u32 selector of %d bytes", nlmsg.ErrInvalidLength, len(a.Data))
		}
		v, err := nlmsg.NewStructView(a.Data, len(a.Data))
		if err != nil {
			return nil, err
		}
		v.Skip(2) // flags, offshift
		nkeys := int(v.Byte())
		v.Skip(sizeofU32SelHdr - 3)
		if len(a.Data) != sizeofU32SelHdr+nkeys*sizeofU32Key {
			return nil, fmt.Errorf("%w: u32 selector declares %d keys in %d bytes", nlmsg.ErrInvalidLength, nkeys, len(a.Data))
		}
		for i := 0; i < nkeys; i++ {
			var k U32Key
			k.Mask = v.Uint32Be()
			k.Val = v.Uint32Be()
			k.Off = v.Int32()
			k.OffMask = v.Int32()
			u.Keys = append(u.Keys, k)
		}
		if err := v.Err(); err != nil {
			return nil, err
		}
	}
	if a, ok := attrs.First(tcaU32Act); ok {
		if u.Actions, err = decodeActions(a); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

// Fw classifies on the packet's firewall mark, as set by iptables or
// nftables. The filter's handle is the mark to match; Mask narrows the
// comparison.
type Fw struct {
	ClassID uint32
	Mask    uint32 // zero matches the whole mark
	Actions []Action
}

func (*Fw) kind() string { return "fw" }

func (f *Fw) encode(e *nlmsg.AttrEncoder) error {
	e.Nested(tcaOptions, func(e *nlmsg.AttrEncoder) error {
		if f.ClassID != 0 {
			e.Uint32(tcaFwClassid, f.ClassID)
		}
		if f.Mask != 0 {
			e.Uint32(tcaFwMask, f.Mask)
		}
		if len(f.Actions) > 0 {
			encodeActions(e, tcaFwAct, f.Actions)
		}
		return nil
	})
	return nil
}

func decodeFw(opt nlmsg.Attribute) (*Fw, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}

	var f Fw
	if a, ok := attrs.First(tcaFwClassid); ok {
		if f.ClassID, err = a.Uint32(); err != nil {
			return nil, err
		}
	}
	if a, ok := attrs.First(tcaFwMask); ok {
		if f.Mask, err = a.Uint32(); err != nil {
			return nil, err
		}
	}
	if a, ok := attrs.First(tcaFwAct); ok {
		if f.Actions, err = decodeActions(a); err != nil {
			return nil, err
		}
	}
	return &f, nil
}
