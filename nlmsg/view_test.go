package nlmsg

import (
	"errors"
	"testing"
)

// The layouts below mimic inet_diag's sock id: ports are fixed
// big-endian, everything else host order.
const sizeofTestRecord = 16

func TestStructRoundTrip(t *testing.T) {
	w := NewStructWriter(sizeofTestRecord)
	w.PutByte(2)          // family
	w.PutByte(1)          // state
	w.PutUint16Be(443)    // port, network order
	w.PutUint32(0x010203) // ifindex
	w.PutUint64(0xdeadbeefcafe)
	b, err := w.Bytes()
	if err != nil {
		t.Fatalf("couldn't finish record: %v", err)
	}
	if len(b) != sizeofTestRecord {
		t.Fatalf("record is %d bytes, want %d", len(b), sizeofTestRecord)
	}

	v, err := NewStructView(b, sizeofTestRecord)
	if err != nil {
		t.Fatalf("couldn't view record: %v", err)
	}
	if got := v.Byte(); got != 2 {
		t.Errorf("family: got %d, want 2", got)
	}
	if got := v.Byte(); got != 1 {
		t.Errorf("state: got %d, want 1", got)
	}
	if got := v.Uint16Be(); got != 443 {
		t.Errorf("port: got %d, want 443", got)
	}
	if got := v.Uint32(); got != 0x010203 {
		t.Errorf("ifindex: got %#x, want 0x010203", got)
	}
	if got := v.Uint64(); got != 0xdeadbeefcafe {
		t.Errorf("cookie: got %#x, want 0xdeadbeefcafe", got)
	}
	if err := v.Err(); err != nil {
		t.Errorf("view failed after clean reads: %v", err)
	}
}

func TestStructViewSizeContract(t *testing.T) {
	for _, n := range []int{sizeofTestRecord - 1, sizeofTestRecord + 1, 0} {
		if _, err := NewStructView(make([]byte, n), sizeofTestRecord); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("view over %d bytes: got %v, want ErrInvalidLength", n, err)
		}
	}
	if _, err := NewStructWriterFor(make([]byte, 3), 4); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("writer over short destination: got %v, want ErrInvalidLength", err)
	}
}

func TestStructViewOverrun(t *testing.T) {
	v, err := NewStructView(make([]byte, 4), 4)
	if err != nil {
		t.Fatal(err)
	}
	v.Uint32()
	if got := v.Uint32(); got != 0 {
		t.Errorf("overrunning read returned %d, want zero value", got)
	}
	if err := v.Err(); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("got %v, want ErrInvalidLength after overrun", err)
	}
}

func TestStructWriterOverrun(t *testing.T) {
	w := NewStructWriter(4)
	w.PutUint32(1)
	w.PutByte(2)
	if _, err := w.Bytes(); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("got %v, want ErrInvalidLength after overrun", err)
	}
}

func TestStructWriterZeroPadding(t *testing.T) {
	w := NewStructWriter(8)
	w.PutUint16(0xffff)
	w.Pad(2)
	w.PutUint32(0xffffffff)
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if b[2] != 0 || b[3] != 0 {
		t.Errorf("padding bytes are % x, want zeros", b[2:4])
	}
}
