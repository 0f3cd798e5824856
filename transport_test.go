package nlkit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scitags/nlkit/nlmsg"
)

func init() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time.
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Remove the directory from the source's filename.
			if a.Key == slog.SourceKey {
				source := a.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return a
		},
	}))
	slog.SetDefault(logger)
}

const testPID uint32 = 42

type testDatagram struct {
	b      []byte
	groups uint32
}

// fakeSocket is an in-memory transport so the correlator can be driven
// without a kernel.
type fakeSocket struct {
	mu     sync.Mutex
	joined map[uint32]bool
	opts   map[int]int

	sentc chan nlmsg.Message
	in    chan testDatagram

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		joined: make(map[uint32]bool),
		opts:   make(map[int]int),
		sentc:  make(chan nlmsg.Message, 16),
		in:     make(chan testDatagram, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) send(b []byte) error {
	msgs, err := nlmsg.ParseMessages(b)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		f.sentc <- m
	}
	return nil
}

func (f *fakeSocket) recv(ctx context.Context) ([]byte, uint32, error) {
	select {
	case d := <-f.in:
		return d.b, d.groups, nil
	case <-f.closed:
		return nil, 0, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (f *fakeSocket) joinGroup(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[id] = true
	return nil
}

func (f *fakeSocket) leaveGroup(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, id)
	return nil
}

func (f *fakeSocket) setOption(opt, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts[opt] = value
	return nil
}

func (f *fakeSocket) close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// reply injects a unicast reply datagram built from the given messages.
func (f *fakeSocket) reply(msgs ...nlmsg.Message) {
	var b []byte
	for _, m := range msgs {
		b = append(b, nlmsg.Marshal(m)...)
	}
	f.in <- testDatagram{b: b}
}

// multicast injects a datagram addressed to a multicast group.
func (f *fakeSocket) multicast(groups uint32, b []byte) {
	f.in <- testDatagram{b: b, groups: groups}
}

func (f *fakeSocket) sent(t *testing.T) nlmsg.Message {
	t.Helper()
	select {
	case m := <-f.sentc:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a request to hit the socket")
		return nlmsg.Message{}
	}
}

func testConn(t *testing.T) (*Conn, *fakeSocket) {
	t.Helper()
	f := newFakeSocket()
	c := newConn(f, Route(), testPID)
	t.Cleanup(func() { c.Close() })
	return c, f
}

// ackFor builds the NLMSG_ERROR ack for a request.
func ackFor(req nlmsg.Message) nlmsg.Message {
	data := make([]byte, 4+nlmsg.HeaderLen)
	// Leading code stays zero; the echoed header follows.
	copy(data[4:], nlmsg.Marshal(req)[:nlmsg.HeaderLen])
	return nlmsg.Message{
		Header: nlmsg.Header{Type: nlmsg.TypeError, Sequence: req.Header.Sequence, PID: req.Header.PID},
		Data:   data,
	}
}

// nackFor builds an NLMSG_ERROR rejection carrying -errno.
func nackFor(req nlmsg.Message, errno int32, extMsg string) nlmsg.Message {
	data := make([]byte, 4+nlmsg.HeaderLen)
	hostEndian.PutUint32(data[0:4], uint32(-errno))
	copy(data[4:], nlmsg.Marshal(req)[:nlmsg.HeaderLen])

	m := nlmsg.Message{
		Header: nlmsg.Header{Type: nlmsg.TypeError, Sequence: req.Header.Sequence, PID: req.Header.PID},
		Data:   data,
	}
	if extMsg != "" {
		e := nlmsg.NewAttrEncoder()
		e.String(1, extMsg) // NLMSGERR_ATTR_MSG
		attrs, _ := e.Encode()
		m.Data = append(m.Data, attrs...)
		m.Header.Flags |= nlmsg.FlagAckTLVs
	}
	return m
}
