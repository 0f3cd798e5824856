package tc

import (
	"fmt"

	"github.com/scitags/nlkit/nlmsg"
)

// QdiscOptions is the kind-specific half of a qdisc: it names the kind
// and encodes the TCA_OPTIONS payload for it.
type QdiscOptions interface {
	kind() string
	encode(e *nlmsg.AttrEncoder) error
}

// A Qdisc is one queueing discipline attached to an interface. Handle
// and Parent address it within the interface's tree; Options carries
// the kind-specific tuning, or nil for kinds this package does not
// model.
type Qdisc struct {
	Ifindex int32
	Handle  uint32
	Parent  uint32
	Kind    string
	Options QdiscOptions
}

func (q *Qdisc) marshal() ([]byte, error) {
	kind := q.Kind
	if q.Options != nil {
		kind = q.Options.kind()
	}

	e := nlmsg.NewAttrEncoder()
	if kind != "" {
		e.String(tcaKind, kind)
	}
	if q.Options != nil {
		if err := q.Options.encode(e); err != nil {
			return nil, err
		}
	}
	attrs, err := e.Encode()
	if err != nil {
		return nil, err
	}

	m := Msg{Ifindex: q.Ifindex, Handle: q.Handle, Parent: q.Parent}
	return append(m.marshal(), attrs...), nil
}

func decodeQdisc(data []byte) (Qdisc, error) {
	m, attrs, err := splitMsg(data)
	if err != nil {
		return Qdisc{}, err
	}

	q := Qdisc{Ifindex: m.Ifindex, Handle: m.Handle, Parent: m.Parent}
	if a, ok := attrs.First(tcaKind); ok {
		q.Kind = a.String()
	}
	if a, ok := attrs.First(tcaOptions); ok {
		q.Options, err = decodeQdiscOptions(q.Kind, a)
		if err != nil {
			return Qdisc{}, fmt.Errorf("tc: qdisc %q on ifindex %d: %w", q.Kind, q.Ifindex, err)
		}
	} else if q.Kind == "clsact" {
		q.Options = &Clsact{}
	} else if q.Kind == "ingress" {
		q.Options = &Ingress{}
	}
	return q, nil
}

func decodeQdiscOptions(kind string, opt nlmsg.Attribute) (QdiscOptions, error) {
	switch kind {
	case "htb":
		return decodeHtb(opt)
	case "tbf":
		return decodeTbf(opt)
	case "prio":
		return decodePrio(opt)
	case "fq_codel":
		return decodeFqCodel(opt)
	case "clsact":
		return &Clsact{}, nil
	case "ingress":
		return &Ingress{}, nil
	default:
		// Unmodelled kinds keep Options nil; the raw handle/parent
		// view is still useful.
		return nil, nil
	}
}

const sizeofHtbGlob = 20

// Htb configures the hierarchy token bucket scheduler as a whole; the
// per-class shaping lives in HtbClass.
type Htb struct {
	// Rate2Quantum divides a class rate to derive its DRR quantum when
	// the class does not set one. Zero means the kernel default of 10.
	Rate2Quantum uint32

	// DefaultClass receives traffic no filter classifies, as a minor
	// handle. Zero sends unclassified traffic to the direct queue.
	DefaultClass uint32

	// DirectQlen caps the direct queue; zero keeps the device default.
	DirectQlen uint32
}

func (*Htb) kind() string { return "htb" }

func (h *Htb) encode(e *nlmsg.AttrEncoder) error {
	r2q := h.Rate2Quantum
	if r2q == 0 {
		r2q = 10
	}

	w := nlmsg.NewStructWriter(sizeofHtbGlob)
	w.PutUint32(3) // TC_HTB_PROTOVER
	w.PutUint32(r2q)
	w.PutUint32(h.DefaultClass)
	w.PutUint32(0) // debug
	w.PutUint32(0) // direct_pkts, kernel-owned counter
	glob, err := w.Bytes()
	if err != nil {
		return err
	}

	e.Nested(tcaOptions, func(e *nlmsg.AttrEncoder) error {
		e.Bytes(tcaHtbInit, glob)
		if h.DirectQlen > 0 {
			e.Uint32(tcaHtbDirectQlen, h.DirectQlen)
		}
		return nil
	})
	return nil
}

func decodeHtb(opt nlmsg.Attribute) (*Htb, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}

	var h Htb
	if a, ok := attrs.First(tcaHtbInit); ok {
		v, err := nlmsg.NewStructView(a.Data, sizeofHtbGlob)
		if err != nil {
			return nil, err
		}
		v.Skip(4) // version
		h.Rate2Quantum = v.Uint32()
		h.DefaultClass = v.Uint32()
		if err := v.Err(); err != nil {
			return nil, err
		}
	}
	if a, ok := attrs.First(tcaHtbDirectQlen); ok {
		if h.DirectQlen, err = a.Uint32(); err != nil {
			return nil, err
		}
	}
	return &h, nil
}

const sizeofTbfQopt = 36

// Tbf configures a token bucket filter: a single rate with a burst
// bucket, optionally capped by a peak rate metered over MinBurst-sized
// slots.
type Tbf struct {
	Rate  uint64 // bytes per second
	Burst uint32 // bucket size in bytes
	Limit uint32 // queue limit in bytes

	PeakRate uint64 // optional second rate bound, bytes per second
	MinBurst uint32 // peak metering slot, typically the MTU

	Mpu       uint16
	Linklayer uint8
}

func (*Tbf) kind() string { return "tbf" }

func (t *Tbf) encode(e *nlmsg.AttrEncoder) error {
	if t.Rate == 0 {
		return fmt.Errorf("tc: tbf requires a rate")
	}
	if t.Burst == 0 {
		return fmt.Errorf("tc: tbf requires a burst")
	}

	rate := RateSpec{
		Rate:      clampRate(t.Rate),
		Mpu:       t.Mpu,
		Linklayer: t.Linklayer,
	}
	rtab, err := rate.Table(0)
	if err != nil {
		return err
	}

	var (
		peak RateSpec
		ptab []byte
		mtu  uint32
	)
	if t.PeakRate > 0 {
		if t.MinBurst == 0 {
			return fmt.Errorf("tc: tbf peak rate requires a minburst")
		}
		peak = RateSpec{
			Rate:      clampRate(t.PeakRate),
			Mpu:       t.Mpu,
			Linklayer: t.Linklayer,
		}
		if ptab, err = peak.Table(0); err != nil {
			return err
		}
		mtu = Xmittime(t.PeakRate, t.MinBurst)
	}

	w := nlmsg.NewStructWriter(sizeofTbfQopt)
	w.PutBytes(rate.marshal())
	w.PutBytes(peak.marshal())
	w.PutUint32(t.Limit)
	w.PutUint32(Xmittime(t.Rate, t.Burst))
	w.PutUint32(mtu)
	parms, err := w.Bytes()
	if err != nil {
		return err
	}

	e.Nested(tcaOptions, func(e *nlmsg.AttrEncoder) error {
		e.Bytes(tcaTbfParms, parms)
		e.Bytes(tcaTbfRtab, rtab)
		if ptab != nil {
			e.Bytes(tcaTbfPtab, ptab)
		}
		if t.Rate >= 1<<32 {
			e.Uint64(tcaTbfRate64, t.Rate)
			e.Uint32(tcaTbfBurst, t.Burst)
		}
		if t.PeakRate >= 1<<32 {
			e.Uint64(tcaTbfPrate64, t.PeakRate)
			e.Uint32(tcaTbfPburst, t.MinBurst)
		}
		return nil
	})
	return nil
}

func decodeTbf(opt nlmsg.Attribute) (*Tbf, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}

	var t Tbf
	a, ok := attrs.First(tcaTbfParms)
	if !ok {
		return nil, fmt.Errorf("%w: tbf options without parms", nlmsg.ErrAttributeDecode)
	}
	v, err := nlmsg.NewStructView(a.Data, sizeofTbfQopt)
	if err != nil {
		return nil, err
	}
	rate := rateSpecFromView(v)
	peak := rateSpecFromView(v)
	t.Limit = v.Uint32()
	buffer := v.Uint32()
	mtu := v.Uint32()
	if err := v.Err(); err != nil {
		return nil, err
	}

	t.Rate = uint64(rate.Rate)
	t.PeakRate = uint64(peak.Rate)
	t.Mpu = rate.Mpu
	t.Linklayer = rate.Linklayer & linklayerMask

	if a, ok := attrs.First(tcaTbfRate64); ok {
		if t.Rate, err = a.Uint64(); err != nil {
			return nil, err
		}
	}
	if a, ok := attrs.First(tcaTbfPrate64); ok {
		if t.PeakRate, err = a.Uint64(); err != nil {
			return nil, err
		}
	}

	t.Burst = Xmitsize(t.Rate, buffer)
	if a, ok := attrs.First(tcaTbfBurst); ok {
		if t.Burst, err = a.Uint32(); err != nil {
			return nil, err
		}
	}
	if t.PeakRate > 0 {
		t.MinBurst = Xmitsize(t.PeakRate, mtu)
	}
	if a, ok := attrs.First(tcaTbfPburst); ok {
		if t.MinBurst, err = a.Uint32(); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

const (
	sizeofPrioQopt = 20
	prioBandsMax   = 16
)

// defaultPriomap is the standard TOS-to-band mapping every priority
// scheduler ships with.
var defaultPriomap = [prioBandsMax]uint8{1, 2, 2, 2, 1, 2, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1}

// Prio configures the classful priority scheduler. A zero value encodes
// the kernel defaults of three bands and the standard priomap.
type Prio struct {
	Bands   int32
	Priomap [prioBandsMax]uint8
}

func (*Prio) kind() string { return "prio" }

func (p *Prio) encode(e *nlmsg.AttrEncoder) error {
	bands := p.Bands
	priomap := p.Priomap
	if bands == 0 {
		bands = 3
		if priomap == ([prioBandsMax]uint8{}) {
			priomap = defaultPriomap
		}
	}
	if bands < 2 || bands > prioBandsMax {
		return fmt.Errorf("tc: prio bands %d out of range [2, %d]", bands, prioBandsMax)
	}
	for i, b := range priomap {
		if int32(b) >= bands {
			return fmt.Errorf("tc: priomap entry %d selects band %d of %d", i, b, bands)
		}
	}

	w := nlmsg.NewStructWriter(sizeofPrioQopt)
	w.PutInt32(bands)
	w.PutBytes(priomap[:])
	qopt, err := w.Bytes()
	if err != nil {
		return err
	}

	// prio's options are the raw qopt struct, not an attribute list.
	e.Bytes(tcaOptions, qopt)
	return nil
}

func decodePrio(opt nlmsg.Attribute) (*Prio, error) {
	v, err := nlmsg.NewStructView(opt.Data, sizeofPrioQopt)
	if err != nil {
		return nil, err
	}
	var p Prio
	p.Bands = v.Int32()
	copy(p.Priomap[:], v.Bytes(prioBandsMax))
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FqCodel configures the fq_codel scheduler. Zero fields are left to
// the kernel defaults.
type FqCodel struct {
	Target   uint32 // acceptable standing delay, microseconds
	Limit    uint32 // hard packet limit across all flows
	Interval uint32 // sliding window for delay measurement, microseconds
	Flows    uint32
	Quantum  uint32
	ECN      bool
}

func (*FqCodel) kind() string { return "fq_codel" }

func (f *FqCodel) encode(e *nlmsg.AttrEncoder) error {
	e.Nested(tcaOptions, func(e *nlmsg.AttrEncoder) error {
		if f.Target > 0 {
			e.Uint32(tcaFqCodelTarget, f.Target)
		}
		if f.Limit > 0 {
			e.Uint32(tcaFqCodelLimit, f.Limit)
		}
		if f.Interval > 0 {
			e.Uint32(tcaFqCodelInterval, f.Interval)
		}
		if f.Flows > 0 {
			e.Uint32(tcaFqCodelFlows, f.Flows)
		}
		if f.Quantum > 0 {
			e.Uint32(tcaFqCodelQuantum, f.Quantum)
		}
		if f.ECN {
			e.Uint32(tcaFqCodelECN, 1)
		}
		return nil
	})
	return nil
}

func decodeFqCodel(opt nlmsg.Attribute) (*FqCodel, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}

	var f FqCodel
	for _, a := range attrs {
		var dst *uint32
		switch a.Type {
		case tcaFqCodelTarget:
			dst = &f.Target
		case tcaFqCodelLimit:
			dst = &f.Limit
		case tcaFqCodelInterval:
			dst = &f.Interval
		case tcaFqCodelFlows:
			dst = &f.Flows
		case tcaFqCodelQuantum:
			dst = &f.Quantum
		case tcaFqCodelECN:
			v, err := a.Uint32()
			if err != nil {
				return nil, err
			}
			f.ECN = v != 0
			continue
		default:
			continue
		}
		if *dst, err = a.Uint32(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Clsact is the filter-only qdisc exposing the ingress and egress
// hooks; it has no tuning.
type Clsact struct{}

func (*Clsact) kind() string { return "clsact" }

func (*Clsact) encode(*nlmsg.AttrEncoder) error { return nil }

// Ingress is the legacy ingress-only filter hook.
type Ingress struct{}

func (*Ingress) kind() string { return "ingress" }

func (*Ingress) encode(*nlmsg.AttrEncoder) error { return nil }
