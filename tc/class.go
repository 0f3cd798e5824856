package tc

import (
	"fmt"

	"github.com/scitags/nlkit/nlmsg"
)

// ClassOptions is the kind-specific half of a class, mirroring
// QdiscOptions.
type ClassOptions interface {
	kind() string
	encode(e *nlmsg.AttrEncoder) error
}

// A Class is one class within a classful qdisc's hierarchy.
type Class struct {
	Ifindex int32
	Handle  uint32
	Parent  uint32
	Kind    string
	Options ClassOptions
}

func (c *Class) marshal() ([]byte, error) {
	kind := c.Kind
	if c.Options != nil {
		kind = c.Options.kind()
	}

	e := nlmsg.NewAttrEncoder()
	if kind != "" {
		e.String(tcaKind, kind)
	}
	if c.Options != nil {
		if err := c.Options.encode(e); err != nil {
			return nil, err
		}
	}
	attrs, err := e.Encode()
	if err != nil {
		return nil, err
	}

	m := Msg{Ifindex: c.Ifindex, Handle: c.Handle, Parent: c.Parent}
	return append(m.marshal(), attrs...), nil
}

func decodeClass(data []byte) (Class, error) {
	m, attrs, err := splitMsg(data)
	if err != nil {
		return Class{}, err
	}

	c := Class{Ifindex: m.Ifindex, Handle: m.Handle, Parent: m.Parent}
	if a, ok := attrs.First(tcaKind); ok {
		c.Kind = a.String()
	}
	if a, ok := attrs.First(tcaOptions); ok && c.Kind == "htb" {
		c.Options, err = decodeHtbClass(a)
		if err != nil {
			return Class{}, fmt.Errorf("tc: htb class %#x on ifindex %d: %w", c.Handle, c.Ifindex, err)
		}
	}
	return c, nil
}

const sizeofHtbOpt = 44

// HtbClass shapes one HTB class: a guaranteed rate, a ceiling it may
// borrow up to, and the token buckets metering both.
type HtbClass struct {
	Rate uint64 // guaranteed rate, bytes per second
	Ceil uint64 // borrowing ceiling, bytes per second; zero means Rate

	// Buffer and Cbuffer size the rate and ceiling token buckets in
	// bytes. Zero derives one burst-tick worth of bytes plus an MTU,
	// matching what tc(8) does.
	Buffer  uint32
	Cbuffer uint32

	Quantum uint32 // DRR quantum in bytes; zero defers to rate2quantum
	Prio    uint32 // borrowing priority, lower borrows first
	Mtu     uint32 // rate table granularity; zero means 1600
}

func (*HtbClass) kind() string { return "htb" }

func (h *HtbClass) encode(e *nlmsg.AttrEncoder) error {
	if h.Rate == 0 {
		return fmt.Errorf("tc: htb class requires a rate")
	}

	ceil := h.Ceil
	if ceil == 0 {
		ceil = h.Rate
	}
	mtu := h.Mtu
	if mtu == 0 {
		mtu = 1600
	}
	buffer := h.Buffer
	if buffer == 0 {
		buffer = uint32(h.Rate/100) + mtu
	}
	cbuffer := h.Cbuffer
	if cbuffer == 0 {
		cbuffer = uint32(ceil/100) + mtu
	}

	rate := RateSpec{Rate: clampRate(h.Rate)}
	rtab, err := rate.Table(mtu)
	if err != nil {
		return err
	}
	ceilSpec := RateSpec{Rate: clampRate(ceil)}
	ctab, err := ceilSpec.Table(mtu)
	if err != nil {
		return err
	}

	w := nlmsg.NewStructWriter(sizeofHtbOpt)
	w.PutBytes(rate.marshal())
	w.PutBytes(ceilSpec.marshal())
	w.PutUint32(Xmittime(h.Rate, buffer))
	w.PutUint32(Xmittime(ceil, cbuffer))
	w.PutUint32(h.Quantum)
	w.PutUint32(0) // level, kernel-owned
	w.PutUint32(h.Prio)
	parms, err := w.Bytes()
	if err != nil {
		return err
	}

	e.Nested(tcaOptions, func(e *nlmsg.AttrEncoder) error {
		e.Bytes(tcaHtbParms, parms)
		e.Bytes(tcaHtbRtab, rtab)
		e.Bytes(tcaHtbCtab, ctab)
		if h.Rate >= 1<<32 {
			e.Uint64(tcaHtbRate64, h.Rate)
		}
		if ceil >= 1<<32 {
			e.Uint64(tcaHtbCeil64, ceil)
		}
		return nil
	})
	return nil
}

func decodeHtbClass(opt nlmsg.Attribute) (*HtbClass, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}

	a, ok := attrs.First(tcaHtbParms)
	if !ok {
		return nil, fmt.Errorf("%w: htb class options without parms", nlmsg.ErrAttributeDecode)
	}
	v, err := nlmsg.NewStructView(a.Data, sizeofHtbOpt)
	if err != nil {
		return nil, err
	}
	rate := rateSpecFromView(v)
	ceil := rateSpecFromView(v)
	buffer := v.Uint32()
	cbuffer := v.Uint32()
	quantum := v.Uint32()
	v.Skip(4) // level
	prio := v.Uint32()
	if err := v.Err(); err != nil {
		return nil, err
	}

	h := HtbClass{
		Rate:    uint64(rate.Rate),
		Ceil:    uint64(ceil.Rate),
		Quantum: quantum,
		Prio:    prio,
	}
	if a, ok := attrs.First(tcaHtbRate64); ok {
		if h.Rate, err = a.Uint64(); err != nil {
			return nil, err
		}
	}
	if a, ok := attrs.First(tcaHtbCeil64); ok {
		if h.Ceil, err = a.Uint64(); err != nil {
			return nil, err
		}
	}
	h.Buffer = Xmitsize(h.Rate, buffer)
	h.Cbuffer = Xmitsize(h.Ceil, cbuffer)
	return &h, nil
}
