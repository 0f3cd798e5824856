package tc

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scitags/nlkit/nlmsg"
)

// qdiscRoundTrip marshals a qdisc and decodes the result as if it came
// back in a dump.
func qdiscRoundTrip(t *testing.T, in Qdisc) Qdisc {
	t.Helper()
	data, err := in.marshal()
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeQdisc(data)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHtbQdiscRoundTrip(t *testing.T) {
	in := Qdisc{
		Ifindex: 2,
		Handle:  NewHandle(1, 0),
		Parent:  HandleRoot,
		Options: &Htb{Rate2Quantum: 4, DefaultClass: 0x30, DirectQlen: 100},
	}
	want := in
	want.Kind = "htb"

	if diff := cmp.Diff(want, qdiscRoundTrip(t, in)); diff != "" {
		t.Fatalf("htb qdisc mismatch (-want +got):\n%s", diff)
	}
}

func TestHtbQdiscDefaultsRate2Quantum(t *testing.T) {
	out := qdiscRoundTrip(t, Qdisc{Ifindex: 2, Options: &Htb{}})
	h, ok := out.Options.(*Htb)
	if !ok {
		t.Fatalf("options decoded as %T", out.Options)
	}
	if h.Rate2Quantum != 10 {
		t.Fatalf("Rate2Quantum = %d, want the default 10", h.Rate2Quantum)
	}
}

func TestTbfQdiscRoundTrip(t *testing.T) {
	in := Qdisc{
		Ifindex: 3,
		Handle:  NewHandle(0x10, 0),
		Parent:  HandleRoot,
		Options: &Tbf{Rate: 1_000_000, Burst: 10000, Limit: 50000},
	}
	want := in
	want.Kind = "tbf"

	if diff := cmp.Diff(want, qdiscRoundTrip(t, in)); diff != "" {
		t.Fatalf("tbf qdisc mismatch (-want +got):\n%s", diff)
	}
}

func TestTbfQdiscPeakRate(t *testing.T) {
	in := Qdisc{
		Ifindex: 3,
		Options: &Tbf{Rate: 1_000_000, Burst: 10000, Limit: 50000, PeakRate: 2_000_000, MinBurst: 1500},
	}
	out := qdiscRoundTrip(t, in)
	tbf, ok := out.Options.(*Tbf)
	if !ok {
		t.Fatalf("options decoded as %T", out.Options)
	}
	if tbf.PeakRate != 2_000_000 || tbf.MinBurst != 1500 {
		t.Fatalf("peak decoded as %d/%d", tbf.PeakRate, tbf.MinBurst)
	}
}

func TestTbfQdiscValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  *Tbf
	}{
		{name: "no rate", opt: &Tbf{Burst: 10000}},
		{name: "no burst", opt: &Tbf{Rate: 1_000_000}},
		{name: "peak without minburst", opt: &Tbf{Rate: 1_000_000, Burst: 10000, PeakRate: 2_000_000}},
	}
	for _, tt := range tests {
		q := Qdisc{Ifindex: 1, Options: tt.opt}
		if _, err := q.marshal(); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestPrioQdiscDefaults(t *testing.T) {
	data, err := (&Qdisc{Ifindex: 2, Options: &Prio{}}).marshal()
	if err != nil {
		t.Fatal(err)
	}
	_, attrs, err := splitMsg(data)
	if err != nil {
		t.Fatal(err)
	}
	a, ok := attrs.First(tcaOptions)
	if !ok {
		t.Fatal("no options attribute")
	}

	// prio options are the raw qopt struct: three bands and the
	// standard TOS priomap.
	want := append([]byte{3, 0, 0, 0}, defaultPriomap[:]...)
	if diff := cmp.Diff(want, a.Data); diff != "" {
		t.Fatalf("prio qopt mismatch (-want +got):\n%s", diff)
	}
}

func TestPrioQdiscRoundTrip(t *testing.T) {
	in := Qdisc{
		Ifindex: 2,
		Options: &Prio{Bands: 4, Priomap: [16]uint8{0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2, 3}},
	}
	want := in
	want.Kind = "prio"

	if diff := cmp.Diff(want, qdiscRoundTrip(t, in)); diff != "" {
		t.Fatalf("prio qdisc mismatch (-want +got):\n%s", diff)
	}
}

func TestPrioQdiscValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  *Prio
	}{
		{name: "too many bands", opt: &Prio{Bands: 17}},
		{name: "one band", opt: &Prio{Bands: 1}},
		{name: "priomap out of range", opt: &Prio{Bands: 2, Priomap: [16]uint8{0, 2}}},
	}
	for _, tt := range tests {
		q := Qdisc{Ifindex: 1, Options: tt.opt}
		if _, err := q.marshal(); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestFqCodelRoundTrip(t *testing.T) {
	in := Qdisc{
		Ifindex: 2,
		Handle:  NewHandle(0x20, 0),
		Parent:  NewHandle(1, 0x30),
		Options: &FqCodel{Target: 5000, Limit: 10240, Interval: 100000, Flows: 1024, Quantum: 1514, ECN: true},
	}
	want := in
	want.Kind = "fq_codel"

	if diff := cmp.Diff(want, qdiscRoundTrip(t, in)); diff != "" {
		t.Fatalf("fq_codel qdisc mismatch (-want +got):\n%s", diff)
	}
}

func TestClsactRoundTrip(t *testing.T) {
	in := Qdisc{
		Ifindex: 2,
		Handle:  HandleIngress,
		Parent:  NewHandle(0xFFFF, HandleMinIngress),
		Options: &Clsact{},
	}
	want := in
	want.Kind = "clsact"

	if diff := cmp.Diff(want, qdiscRoundTrip(t, in)); diff != "" {
		t.Fatalf("clsact qdisc mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUnmodelledKind(t *testing.T) {
	e := nlmsg.NewAttrEncoder()
	e.String(tcaKind, "netem")
	e.Bytes(tcaOptions, make([]byte, 24))
	attrs, err := e.Encode()
	if err != nil {
		t.Fatal(err)
	}
	data := append(Msg{Ifindex: 2, Handle: NewHandle(4, 0)}.marshal(), attrs...)

	q, err := decodeQdisc(data)
	if err != nil {
		t.Fatal(err)
	}
	if q.Kind != "netem" || q.Options != nil {
		t.Fatalf("decoded as kind %q with options %v", q.Kind, q.Options)
	}
}
