package nlkit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/scitags/nlkit/nlmsg"
)

// transport is the raw datagram boundary to the kernel. No message
// interpretation happens below it. recv reports the multicast group
// bitmask the datagram was addressed to; zero means a unicast reply.
type transport interface {
	send(b []byte) error
	recv(ctx context.Context) (b []byte, groups uint32, err error)
	joinGroup(id uint32) error
	leaveGroup(id uint32) error
	setOption(opt, value int) error
	close() error
}

// Config carries socket-level knobs for Dial. The zero value is a
// sensible default.
type Config struct {
	// ReadBuffer and WriteBuffer size the socket buffers in bytes;
	// zero keeps the kernel defaults.
	ReadBuffer  int
	WriteBuffer int

	// Strict enables NETLINK_GET_STRICT_CHK so the kernel validates
	// request headers instead of ignoring unknown fields.
	Strict bool

	// NetNS is a network namespace file descriptor to open the socket
	// in; zero means the caller's namespace.
	NetNS int
}

// An Option is a netlink socket option settable on a live Conn. Values
// are from linux/netlink.h.
type Option int

const (
	OptionNoENOBUFS           Option = 5  // NETLINK_NO_ENOBUFS
	OptionListenAllNSID       Option = 8  // NETLINK_LISTEN_ALL_NSID
	OptionCapAcknowledge      Option = 10 // NETLINK_CAP_ACK
	OptionExtendedAcknowledge Option = 11 // NETLINK_EXT_ACK
	OptionStrictCheck         Option = 12 // NETLINK_GET_STRICT_CHK
)

// NLMSGERR_ATTR_MSG, inside an extended ack.
const errAttrMsg uint16 = 1

// result of one request: the accumulated reply messages or a failure.
type result struct {
	msgs []nlmsg.Message
	err  error
}

type sendReq struct {
	msg    nlmsg.Message
	replyc chan result // buffered, single use
	seqc   chan uint32 // buffered; carries the assigned sequence number
}

// pending tracks one in-flight request inside the correlator. The state
// machine is implicit: a nil accumulator with no multipart flag seen is
// Open; appending moves it to AwaitingMore; delivery on replyc is Done
// or Failed.
type pending struct {
	acc    []nlmsg.Message
	replyc chan result
}

type inbound struct {
	b      []byte
	groups uint32
	err    error
}

// A Conn is a single connection to one netlink protocol. All methods
// are safe for concurrent use: the socket-write path and the pending
// request table are owned by one internal goroutine, and callers reach
// it only through channels.
type Conn struct {
	t     transport
	proto Protocol
	pid   uint32

	// familyID is resolved once at dial time for Generic protocols and
	// never mutated afterwards.
	familyID   uint16
	genlGroups map[string]uint32

	sendc   chan *sendReq
	cancelc chan uint32
	inboxc  chan inbound
	eventIn chan Event
	events  chan Event

	consuming atomic.Bool

	groupsMu sync.Mutex
	groups   map[uint32]struct{}

	done      chan struct{}
	closeOnce sync.Once
	rcancel   context.CancelFunc
}

// Dial opens a connection for the given protocol identity. For Generic
// protocols this includes the one-time family resolution handshake;
// ErrFamilyNotFound means no matching kernel module is loaded. Socket
// creation failures (ErrPermission, ErrUnsupportedProtocol) are fatal
// and never retried here.
func Dial(ctx context.Context, p Protocol, cfg *Config) (*Conn, error) {
	t, pid, err := dialSocket(p.family(), cfg)
	if err != nil {
		return nil, fmt.Errorf("dialling netlink protocol %s: %w", p, err)
	}

	c := newConn(t, p, pid)

	// Richer kernel diagnostics when available; both options predate
	// the kernels this library targets, so a failure is only logged.
	if err := t.setOption(int(OptionCapAcknowledge), 1); err != nil {
		slog.Debug("could not set NETLINK_CAP_ACK", "err", err)
	}
	if err := t.setOption(int(OptionExtendedAcknowledge), 1); err != nil {
		slog.Debug("could not set NETLINK_EXT_ACK", "err", err)
	}
	if cfg != nil && cfg.Strict {
		if err := t.setOption(int(OptionStrictCheck), 1); err != nil {
			c.Close()
			return nil, fmt.Errorf("enabling strict header checks: %w", err)
		}
	}

	if err := p.resolve(ctx, c); err != nil {
		c.Close()
		return nil, fmt.Errorf("resolving netlink protocol %s: %w", p, err)
	}

	slog.Debug("dialled netlink", "protocol", p.String(), "portID", pid)
	return c, nil
}

// newConn wires the correlator around an already-open transport. Split
// from Dial so tests can drive the engine over an in-memory socket.
func newConn(t transport, p Protocol, pid uint32) *Conn {
	c := &Conn{
		t:       t,
		proto:   p,
		pid:     pid,
		sendc:   make(chan *sendReq),
		cancelc: make(chan uint32),
		inboxc:  make(chan inbound),
		eventIn: make(chan Event),
		events:  make(chan Event),
		groups:  make(map[uint32]struct{}),
		done:    make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.rcancel = cancel

	go c.readLoop(ctx)
	go c.run()
	go c.pumpEvents()

	return c
}

// Close tears down the connection: the socket is closed, every pending
// request fails with ErrDisconnected, the event stream ends, and all
// multicast memberships are released with the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.rcancel()
		err = c.t.close()
	})
	return err
}

// SetOption toggles a netlink socket option on the live connection.
func (c *Conn) SetOption(opt Option, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return c.t.setOption(int(opt), v)
}

// Execute sends one request and suspends the caller until the kernel's
// reply completes, fails, or ctx expires. FlagRequest is always set;
// FlagAck is added to non-dump requests so every request terminates.
// For a dump the result holds every part in kernel emission order; for
// a plain data reply it holds one message; for a bare ack it is empty.
//
// Cancelling ctx abandons the request: the pending entry is removed but
// the kernel-side work is not (netlink has no cancel primitive).
func (c *Conn) Execute(ctx context.Context, typ uint16, flags uint16, data []byte) ([]nlmsg.Message, error) {
	flags |= nlmsg.FlagRequest
	if flags&nlmsg.FlagDump != nlmsg.FlagDump {
		flags |= nlmsg.FlagAck
	}

	req := &sendReq{
		msg:    nlmsg.Message{Header: nlmsg.Header{Type: typ, Flags: flags}, Data: data},
		replyc: make(chan result, 1),
		seqc:   make(chan uint32, 1),
	}

	select {
	case c.sendc <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDisconnected
	}

	// The correlator promptly either reports a send failure on replyc
	// or registers the request and hands back its sequence number.
	var seq uint32
	select {
	case r := <-req.replyc:
		return r.msgs, r.err
	case seq = <-req.seqc:
	}

	select {
	case r := <-req.replyc:
		return r.msgs, r.err
	case <-ctx.Done():
		select {
		case c.cancelc <- seq:
		case <-c.done:
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDisconnected
	}
}

// ExecuteDump issues a multipart dump request.
func (c *Conn) ExecuteDump(ctx context.Context, typ uint16, data []byte) ([]nlmsg.Message, error) {
	return c.Execute(ctx, typ, nlmsg.FlagDump, data)
}

// readLoop feeds raw datagrams from the socket into the correlator. A
// receive error ends the loop; the correlator turns it into a
// connection failure.
func (c *Conn) readLoop(ctx context.Context) {
	for {
		b, groups, err := c.t.recv(ctx)
		select {
		case c.inboxc <- inbound{b: b, groups: groups, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// run is the sequence correlator: the single owner of the socket-write
// path and the pending-request table.
func (c *Conn) run() {
	var (
		seq      uint32
		pendings = make(map[uint32]*pending)
		failed   error
	)

	fail := func(err error) {
		failed = err
		for s, p := range pendings {
			p.replyc <- result{err: err}
			delete(pendings, s)
		}
		// The socket is unusable; finish tearing the Conn down so the
		// event stream ends and new calls fail fast.
		c.Close()
	}

	for {
		select {
		case req := <-c.sendc:
			if failed != nil {
				req.replyc <- result{err: failed}
				continue
			}

			// Strictly increasing, never zero, never reused while a
			// request is still in flight.
			seq++
			for seq == 0 || pendings[seq] != nil {
				seq++
			}

			m := req.msg
			m.Header.Sequence = seq
			m.Header.PID = c.pid
			if err := c.t.send(nlmsg.Marshal(m)); err != nil {
				req.replyc <- result{err: fmt.Errorf("sending request: %w", err)}
				continue
			}
			pendings[seq] = &pending{replyc: req.replyc}
			req.seqc <- seq

		case s := <-c.cancelc:
			// Abandon, not cancel: the kernel side runs to completion
			// and any late reply is routed as unsolicited.
			delete(pendings, s)

		case in := <-c.inboxc:
			if in.err != nil {
				fail(fmt.Errorf("%w: %w", ErrDisconnected, in.err))
				continue
			}

			msgs, err := nlmsg.ParseMessages(in.b)
			if err != nil {
				if in.groups != 0 {
					// A malformed multicast datagram only poisons the
					// stream, not request correlation.
					c.emitEvent(Event{Groups: in.groups, Err: err})
					continue
				}
				fail(fmt.Errorf("%w: %w", ErrDisconnected, err))
				continue
			}

			for _, m := range msgs {
				c.dispatch(pendings, m, in.groups)
			}

		case <-c.done:
			for s, p := range pendings {
				p.replyc <- result{err: ErrDisconnected}
				delete(pendings, s)
			}
			return
		}
	}
}

// dispatch routes one inbound message: to its pending request when the
// sequence number matches a unicast reply, to the event stream
// otherwise.
func (c *Conn) dispatch(pendings map[uint32]*pending, m nlmsg.Message, groups uint32) {
	p, ok := pendings[m.Header.Sequence]
	if groups != 0 || !ok || m.Header.PID != c.pid {
		if m.Header.Type == nlmsg.TypeNoop {
			return
		}
		c.emitEvent(Event{Groups: groups, Message: m})
		return
	}

	complete := func(r result) {
		p.replyc <- r
		delete(pendings, m.Header.Sequence)
	}

	switch m.Header.Type {
	case nlmsg.TypeError:
		kerr, err := parseError(m)
		switch {
		case err != nil:
			complete(result{err: err})
		case kerr != nil:
			complete(result{err: kerr})
		default:
			// An ack. For a request that produced data without a
			// terminator this still closes it out cleanly.
			complete(result{msgs: p.acc})
		}

	case nlmsg.TypeDone:
		complete(result{msgs: p.acc})

	case nlmsg.TypeNoop:

	case nlmsg.TypeOverrun:
		complete(result{err: fmt.Errorf("%w: kernel reported receive queue overrun", ErrDisconnected)})

	default:
		if m.Header.Flags&nlmsg.FlagMulti != 0 {
			p.acc = append(p.acc, m)
			return
		}
		complete(result{msgs: []nlmsg.Message{m}})
	}
}

// parseError decodes struct nlmsgerr. A zero code is an ack and yields
// (nil, nil). The kernel's errno is preserved unmodified; an
// extended-ack diagnostic string is attached when present.
func parseError(m nlmsg.Message) (*KernelError, error) {
	if len(m.Data) < 4 {
		return nil, fmt.Errorf("%w: error message payload of %d bytes", nlmsg.ErrFraming, len(m.Data))
	}

	code := int32(hostEndian.Uint32(m.Data[0:4]))
	if code == 0 {
		return nil, nil
	}

	kerr := &KernelError{Errno: syscallErrno(-code)}

	// With NETLINK_CAP_ACK the payload is the code plus the echoed
	// request header, then extended ack attributes when flagged.
	const echoed = 4 + nlmsg.HeaderLen
	if m.Header.Flags&nlmsg.FlagAckTLVs != 0 && len(m.Data) > echoed {
		attrs, err := nlmsg.ParseAttributes(m.Data[echoed:])
		if err != nil {
			// The errno alone is still authoritative.
			slog.Debug("could not parse extended ack attributes", "err", err)
			return kerr, nil
		}
		if a, ok := attrs.First(errAttrMsg); ok {
			kerr.Message = a.String()
		}
	}

	return kerr, nil
}
