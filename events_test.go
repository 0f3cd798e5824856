package nlkit

import (
	"errors"
	"testing"
	"time"

	"github.com/scitags/nlkit/nlmsg"
)

func TestSubscribeJoinsGroups(t *testing.T) {
	c, f := testConn(t)

	if err := c.Subscribe(1, 4, 16); err != nil {
		t.Fatalf("couldn't subscribe: %v", err)
	}
	f.mu.Lock()
	joined := len(f.joined)
	f.mu.Unlock()
	if joined != 3 {
		t.Errorf("%d groups joined, want 3", joined)
	}

	if err := c.Unsubscribe(4); err != nil {
		t.Fatalf("couldn't unsubscribe: %v", err)
	}
	f.mu.Lock()
	_, still := f.joined[4]
	f.mu.Unlock()
	if still {
		t.Error("group 4 is still joined after Unsubscribe")
	}
}

func TestEventStreamDelivery(t *testing.T) {
	c, f := testConn(t)
	if err := c.Subscribe(2); err != nil {
		t.Fatal(err)
	}
	events := c.Events()

	for i := byte(0); i < 3; i++ {
		notif := nlmsg.Message{
			Header: nlmsg.Header{Type: 0x10, PID: 0},
			Data:   []byte{i, 0, 0, 0},
		}
		f.multicast(2, nlmsg.Marshal(notif))
	}

	for i := byte(0); i < 3; i++ {
		select {
		case ev := <-events:
			if ev.Err != nil {
				t.Fatalf("event %d carries error: %v", i, ev.Err)
			}
			if ev.Message.Data[0] != i {
				t.Errorf("event %d delivered out of order: marker %d", i, ev.Message.Data[0])
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestEventDecodeFailureDoesNotEndStream(t *testing.T) {
	c, f := testConn(t)
	events := c.Events()

	// A multicast datagram that cannot be framed.
	f.multicast(2, []byte{0xff, 0xff, 0xff})

	select {
	case ev := <-events:
		if !errors.Is(ev.Err, nlmsg.ErrFraming) {
			t.Fatalf("got %v, want a framing error event", ev.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("decode failure was swallowed")
	}

	// The stream must keep going.
	good := nlmsg.Message{Header: nlmsg.Header{Type: 0x10}, Data: []byte{7, 0, 0, 0}}
	f.multicast(2, nlmsg.Marshal(good))
	select {
	case ev := <-events:
		if ev.Err != nil || ev.Message.Data[0] != 7 {
			t.Fatalf("stream did not recover: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream ended after a per-message decode failure")
	}
}

func TestEventStreamEndsOnClose(t *testing.T) {
	f := newFakeSocket()
	c := newConn(f, Route(), testPID)
	events := c.Events()

	c.Close()

	select {
	case _, ok := <-events:
		if ok {
			// A flushed event is fine; the close must follow.
			if _, ok := <-events; ok {
				t.Fatal("stream still open after Close")
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream never ended after Close")
	}
}
