package tc

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scitags/nlkit/nlmsg"
)

func filterRoundTrip(t *testing.T, in Filter) Filter {
	t.Helper()
	data, err := in.marshal()
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeFilter(data)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestFilterInfoPacking(t *testing.T) {
	f := Filter{Priority: 10, Protocol: ProtoIP}
	if got := f.info(); got != 0x000A0008 {
		t.Fatalf("info = %#x, want 0xA0008", got)
	}

	out := filterRoundTrip(t, Filter{Ifindex: 2, Priority: 10, Protocol: ProtoIP})
	if out.Priority != 10 || out.Protocol != ProtoIP {
		t.Fatalf("decoded priority %d protocol %#x", out.Priority, out.Protocol)
	}
}

func TestU32FilterRoundTrip(t *testing.T) {
	chain := uint32(4)
	in := Filter{
		Ifindex:  2,
		Parent:   NewHandle(1, 0),
		Priority: 1,
		Protocol: ProtoIP,
		Chain:    &chain,
		Options: &U32{
			ClassID: NewHandle(1, 0x10),
			Keys: []U32Key{
				// dst 10.0.0.0/8 at IP header offset 16.
				{Mask: 0xFF000000, Val: 0x0A000000, Off: 16},
				{Mask: 0x0000FFFF, Val: 0x00000050, Off: 20},
			},
			Actions: []Action{&Gact{Action: ActOK}},
		},
	}
	want := in
	want.Kind = "u32"

	if diff := cmp.Diff(want, filterRoundTrip(t, in)); diff != "" {
		t.Fatalf("u32 filter mismatch (-want +got):\n%s", diff)
	}
}

func TestU32SelectorLayout(t *testing.T) {
	in := Filter{
		Ifindex:  2,
		Priority: 1,
		Protocol: ProtoAll,
		Options: &U32{
			Keys: []U32Key{{Mask: 0xFFFF0000, Val: 0x0A010000, Off: 12}},
		},
	}
	data, err := in.marshal()
	if err != nil {
		t.Fatal(err)
	}
	_, attrs, err := splitMsg(data)
	if err != nil {
		t.Fatal(err)
	}
	opt, _ := attrs.First(tcaOptions)
	nested, err := opt.Nested()
	if err != nil {
		t.Fatal(err)
	}
	sel, ok := nested.First(tcaU32Sel)
	if !ok {
		t.Fatal("no selector attribute")
	}

	if len(sel.Data) != sizeofU32SelHdr+sizeofU32Key {
		t.Fatalf("selector holds %d bytes", len(sel.Data))
	}
	if sel.Data[0] != selTerminal {
		t.Fatalf("flags = %#x, want terminal", sel.Data[0])
	}
	if sel.Data[2] != 1 {
		t.Fatalf("nkeys = %d, want 1", sel.Data[2])
	}
	// Mask and value travel big-endian.
	key := sel.Data[sizeofU32SelHdr:]
	if got := [4]byte(key[0:4]); got != [4]byte{0xFF, 0xFF, 0x00, 0x00} {
		t.Fatalf("mask bytes = %x", got)
	}
	if got := [4]byte(key[4:8]); got != [4]byte{0x0A, 0x01, 0x00, 0x00} {
		t.Fatalf("value bytes = %x", got)
	}
}

func TestU32RejectsTooManyKeys(t *testing.T) {
	u := &U32{Keys: make([]U32Key, 256)}
	f := Filter{Ifindex: 1, Options: u}
	if _, err := f.marshal(); err == nil {
		t.Fatal("expected an error for an oversized selector")
	}
}

func TestDecodeU32RejectsKeyCountMismatch(t *testing.T) {
	e := nlmsg.NewAttrEncoder()
	e.String(tcaKind, "u32")
	e.Nested(tcaOptions, func(e *nlmsg.AttrEncoder) error {
		sel := make([]byte, sizeofU32SelHdr)
		sel[2] = 2 // declares two keys, carries none
		e.Bytes(tcaU32Sel, sel)
		return nil
	})
	attrs, err := e.Encode()
	if err != nil {
		t.Fatal(err)
	}
	data := append(Msg{Ifindex: 2}.marshal(), attrs...)

	if _, err := decodeFilter(data); err == nil {
		t.Fatal("expected an error for a lying key count")
	}
}

func TestFwFilterRoundTrip(t *testing.T) {
	in := Filter{
		Ifindex:  2,
		Handle:   0x2A, // the mark to match
		Parent:   NewHandle(1, 0),
		Priority: 2,
		Protocol: ProtoAll,
		Options: &Fw{
			ClassID: NewHandle(1, 0x20),
			Mask:    0xFF,
			Actions: []Action{&Mirred{Action: ActStolen, Eaction: MirredEgressRedirect, Ifindex: 7}},
		},
	}
	want := in
	want.Kind = "fw"

	if diff := cmp.Diff(want, filterRoundTrip(t, in)); diff != "" {
		t.Fatalf("fw filter mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterGotoChainAction(t *testing.T) {
	verdict, err := GotoChain(7)
	if err != nil {
		t.Fatal(err)
	}
	in := Filter{
		Ifindex:  2,
		Priority: 1,
		Protocol: ProtoAll,
		Options:  &Fw{Actions: []Action{&Gact{Action: verdict}}},
	}

	out := filterRoundTrip(t, in)
	fw := out.Options.(*Fw)
	gact := fw.Actions[0].(*Gact)
	chain, ok := GotoChainIndex(gact.Action)
	if !ok || chain != 7 {
		t.Fatalf("decoded verdict %#x reads as chain %d, %t", gact.Action, chain, ok)
	}
}
