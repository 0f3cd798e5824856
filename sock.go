//go:build linux

package nlkit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mdlayher/socket"
	"golang.org/x/sys/unix"
)

// netlinkSocket owns the kernel datagram channel. It is a pure byte
// boundary; framing and correlation live above it.
type netlinkSocket struct {
	c      *socket.Conn
	portID uint32
}

func dialSocket(proto int, cfg *Config) (transport, uint32, error) {
	var sockCfg *socket.Config
	if cfg != nil && cfg.NetNS != 0 {
		sockCfg = &socket.Config{NetNS: cfg.NetNS}
	}

	c, err := socket.Socket(unix.AF_NETLINK, unix.SOCK_RAW, proto, "netlink", sockCfg)
	if err != nil {
		return nil, 0, sockErr("creating socket", err)
	}

	s := &netlinkSocket{c: c}
	if err := s.init(cfg); err != nil {
		c.Close()
		return nil, 0, err
	}
	return s, s.portID, nil
}

func (s *netlinkSocket) init(cfg *Config) error {
	if err := s.c.Bind(&unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		return sockErr("binding socket", err)
	}

	// The kernel assigns our port id at bind time; replies are
	// addressed to it and the correlator validates against it.
	sa, err := s.c.Getsockname()
	if err != nil {
		return sockErr("getting bound address", err)
	}
	nl, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		return fmt.Errorf("bound address is %T, not netlink", sa)
	}
	s.portID = nl.Pid

	if cfg != nil && cfg.ReadBuffer > 0 {
		if err := s.c.SetReadBuffer(cfg.ReadBuffer); err != nil {
			return sockErr("sizing receive buffer", err)
		}
	}
	if cfg != nil && cfg.WriteBuffer > 0 {
		if err := s.c.SetWriteBuffer(cfg.WriteBuffer); err != nil {
			return sockErr("sizing send buffer", err)
		}
	}

	return nil
}

func sockErr(op string, err error) error {
	switch {
	case errors.Is(err, unix.EPERM):
		return fmt.Errorf("%s: %w", op, ErrPermission)
	case errors.Is(err, unix.EPROTONOSUPPORT):
		return fmt.Errorf("%s: %w", op, ErrUnsupportedProtocol)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *netlinkSocket) send(b []byte) error {
	// Always addressed to the kernel.
	_, err := s.c.Sendmsg(context.Background(), b, nil, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}, 0)
	return err
}

func (s *netlinkSocket) recv(ctx context.Context) ([]byte, uint32, error) {
	b := make([]byte, os.Getpagesize())
	for {
		// Peek to learn whether the datagram fits; grow until it does
		// so a large dump part is never truncated.
		n, _, _, _, err := s.c.Recvmsg(ctx, b, nil, unix.MSG_PEEK)
		if err != nil {
			return nil, 0, err
		}
		if n < len(b) {
			break
		}
		b = make([]byte, len(b)*2)
	}

	n, _, _, from, err := s.c.Recvmsg(ctx, b, nil, 0)
	if err != nil {
		return nil, 0, err
	}

	var groups uint32
	if sa, ok := from.(*unix.SockaddrNetlink); ok {
		groups = sa.Groups
	}
	return b[:n], groups, nil
}

func (s *netlinkSocket) joinGroup(id uint32) error {
	return s.c.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(id))
}

func (s *netlinkSocket) leaveGroup(id uint32) error {
	return s.c.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_DROP_MEMBERSHIP, int(id))
}

func (s *netlinkSocket) setOption(opt, value int) error {
	return s.c.SetsockoptInt(unix.SOL_NETLINK, opt, value)
}

func (s *netlinkSocket) close() error {
	return s.c.Close()
}
