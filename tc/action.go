package tc

import (
	"fmt"

	"github.com/scitags/nlkit/nlmsg"
)

// Action verdict codes, from linux/pkt_cls.h.
const (
	ActUnspec     int32 = -1
	ActOK         int32 = 0
	ActReclassify int32 = 1
	ActShot       int32 = 2
	ActPipe       int32 = 3
	ActStolen     int32 = 4
	ActQueued     int32 = 5
	ActRepeat     int32 = 6
	ActRedirect   int32 = 7
	ActTrap       int32 = 8
)

// Extended verdicts pack an opcode into the top nibble and an operand
// into the low 28 bits.
const (
	actExtValMask int32 = 1<<28 - 1

	ActJump      int32 = 1 << 28
	ActGotoChain int32 = 2 << 28
)

// GotoChain packs a continue-at-chain verdict for the given chain
// index.
func GotoChain(chain uint32) (int32, error) {
	if chain > uint32(actExtValMask) {
		return 0, fmt.Errorf("tc: chain index %d does not fit a verdict operand", chain)
	}
	return ActGotoChain | int32(chain), nil
}

// GotoChainIndex unpacks a goto-chain verdict. The second return is
// false for every other verdict, including ActUnspec and the plain
// codes.
func GotoChainIndex(v int32) (uint32, bool) {
	if v&^actExtValMask != ActGotoChain {
		return 0, false
	}
	return uint32(v & actExtValMask), true
}

// Jump packs a skip-n-actions verdict.
func Jump(offset uint32) (int32, error) {
	if offset > uint32(actExtValMask) {
		return 0, fmt.Errorf("tc: jump offset %d does not fit a verdict operand", offset)
	}
	return ActJump | int32(offset), nil
}

// JumpOffset unpacks a jump verdict.
func JumpOffset(v int32) (uint32, bool) {
	if v&^actExtValMask != ActJump {
		return 0, false
	}
	return uint32(v & actExtValMask), true
}

// An Action is one entry in a filter's action list, executed in order
// on every match.
type Action interface {
	kind() string
	encodeOptions(e *nlmsg.AttrEncoder) error
}

// encodeActions appends the action list container: a nest of 1-based
// ordinal attributes, each wrapping one action's kind and options.
func encodeActions(e *nlmsg.AttrEncoder, typ uint16, acts []Action) {
	e.Nested(typ, func(e *nlmsg.AttrEncoder) error {
		for i, a := range acts {
			a := a
			e.Nested(uint16(i+1), func(e *nlmsg.AttrEncoder) error {
				e.String(tcaActKind, a.kind())
				e.Nested(tcaActOptions, a.encodeOptions)
				return nil
			})
		}
		return nil
	})
}

func decodeActions(opt nlmsg.Attribute) ([]Action, error) {
	list, err := opt.Nested()
	if err != nil {
		return nil, err
	}

	var acts []Action
	for _, entry := range list {
		attrs, err := entry.Nested()
		if err != nil {
			return nil, err
		}
		ka, ok := attrs.First(tcaActKind)
		if !ok {
			return nil, fmt.Errorf("%w: action without a kind", nlmsg.ErrAttributeDecode)
		}
		oa, ok := attrs.First(tcaActOptions)
		if !ok {
			continue
		}

		var a Action
		switch kind := ka.String(); kind {
		case "gact":
			if a, err = decodeGact(oa); err != nil {
				return nil, err
			}
		case "mirred":
			if a, err = decodeMirred(oa); err != nil {
				return nil, err
			}
		default:
			// Unmodelled action kinds are skipped, not an error; a
			// dump is read-only.
			continue
		}
		acts = append(acts, a)
	}
	return acts, nil
}

// sizeofGen is struct tc_gen, the common head of every action's parms:
// index, capab, action, refcnt, bindcnt.
const sizeofGen = 20

func putGen(w *nlmsg.StructWriter, action int32) {
	w.PutUint32(0) // index, kernel-assigned
	w.PutUint32(0) // capab
	w.PutInt32(action)
	w.PutUint32(0) // refcnt
	w.PutUint32(0) // bindcnt
}

func genAction(v *nlmsg.StructView) int32 {
	v.Skip(8) // index, capab
	a := v.Int32()
	v.Skip(8) // refcnt, bindcnt
	return a
}

// Gact is the generic action: it carries nothing but a verdict, which
// may be a plain code or a packed jump/goto-chain.
type Gact struct {
	Action int32
}

func (*Gact) kind() string { return "gact" }

func (g *Gact) encodeOptions(e *nlmsg.AttrEncoder) error {
	w := nlmsg.NewStructWriter(sizeofGen)
	putGen(w, g.Action)
	parms, err := w.Bytes()
	if err != nil {
		return err
	}
	e.Bytes(tcaGactParms, parms)
	return nil
}

func decodeGact(opt nlmsg.Attribute) (*Gact, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}
	a, ok := attrs.First(tcaGactParms)
	if !ok {
		return nil, fmt.Errorf("%w: gact without parms", nlmsg.ErrAttributeDecode)
	}
	v, err := nlmsg.NewStructView(a.Data, sizeofGen)
	if err != nil {
		return nil, err
	}
	g := Gact{Action: genAction(v)}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Mirred eaction codes: where the matched packet is mirrored or
// redirected to.
const (
	MirredEgressRedirect  int32 = 1
	MirredEgressMirror    int32 = 2
	MirredIngressRedirect int32 = 3
	MirredIngressMirror   int32 = 4
)

const sizeofMirred = sizeofGen + 8

// Mirred mirrors or redirects matched packets to another interface.
type Mirred struct {
	Action  int32 // verdict after the copy, usually ActStolen or ActPipe
	Eaction int32
	Ifindex uint32
}

func (*Mirred) kind() string { return "mirred" }

func (m *Mirred) encodeOptions(e *nlmsg.AttrEncoder) error {
	w := nlmsg.NewStructWriter(sizeofMirred)
	putGen(w, m.Action)
	w.PutInt32(m.Eaction)
	w.PutUint32(m.Ifindex)
	parms, err := w.Bytes()
	if err != nil {
		return err
	}
	e.Bytes(tcaMirredParms, parms)
	return nil
}

func decodeMirred(opt nlmsg.Attribute) (*Mirred, error) {
	attrs, err := opt.Nested()
	if err != nil {
		return nil, err
	}
	a, ok := attrs.First(tcaMirredParms)
	if !ok {
		return nil, fmt.Errorf("%w: mirred without parms", nlmsg.ErrAttributeDecode)
	}
	v, err := nlmsg.NewStructView(a.Data, sizeofMirred)
	if err != nil {
		return nil, err
	}
	m := Mirred{Action: genAction(v)}
	m.Eaction = v.Int32()
	m.Ifindex = v.Uint32()
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &m, nil
}
