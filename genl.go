package nlkit

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/scitags/nlkit/nlmsg"
)

// Generic netlink controller protocol, from linux/genetlink.h.
const (
	genlIDCtrl    uint16 = 0x10
	genlHeaderLen        = 4
	ctrlVersion   uint8  = 2

	ctrlCmdGetFamily uint8 = 3

	ctrlAttrFamilyID    uint16 = 1
	ctrlAttrFamilyName  uint16 = 2
	ctrlAttrMcastGroups uint16 = 7

	ctrlAttrMcastGrpName uint16 = 1
	ctrlAttrMcastGrpID   uint16 = 2
)

// marshalGenlHeader encodes struct genlmsghdr: command, version and two
// reserved bytes.
func marshalGenlHeader(cmd, version uint8) []byte {
	w := nlmsg.NewStructWriter(genlHeaderLen)
	w.PutByte(cmd)
	w.PutByte(version)
	b, _ := w.Bytes()
	return b
}

// ExecuteGenl sends a request to the connection's resolved generic
// family: the cached family id becomes the message type and a
// genlmsghdr is prepended to the attribute payload.
func (c *Conn) ExecuteGenl(ctx context.Context, cmd, version uint8, flags uint16, attrs []byte) ([]nlmsg.Message, error) {
	if c.familyID == 0 {
		return nil, errors.New("nlkit: connection has no resolved generic netlink family")
	}
	data := append(marshalGenlHeader(cmd, version), attrs...)
	return c.Execute(ctx, c.familyID, flags, data)
}

// resolve performs the one-time family-by-name lookup through the
// connection's own correlator and caches the result on the Conn.
func (p genericProtocol) resolve(ctx context.Context, c *Conn) error {
	e := nlmsg.NewAttrEncoder()
	e.String(ctrlAttrFamilyName, p.name)
	attrs, err := e.Encode()
	if err != nil {
		return err
	}

	data := append(marshalGenlHeader(ctrlCmdGetFamily, ctrlVersion), attrs...)
	msgs, err := c.Execute(ctx, genlIDCtrl, 0, data)
	if err != nil {
		var kerr *KernelError
		if errors.As(err, &kerr) && kerr.Errno == syscall.ENOENT {
			return fmt.Errorf("%w: %q", ErrFamilyNotFound, p.name)
		}
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("nlctrl returned no reply for family %q", p.name)
	}

	payload := msgs[0].Data
	if len(payload) < genlHeaderLen {
		return fmt.Errorf("%w: nlctrl reply of %d bytes", nlmsg.ErrFraming, len(payload))
	}
	reply, err := nlmsg.ParseAttributes(payload[genlHeaderLen:])
	if err != nil {
		return fmt.Errorf("parsing nlctrl reply: %w", err)
	}

	id, ok := reply.First(ctrlAttrFamilyID)
	if !ok {
		return fmt.Errorf("nlctrl reply for %q carries no family id", p.name)
	}
	c.familyID, err = id.Uint16()
	if err != nil {
		return fmt.Errorf("parsing family id: %w", err)
	}

	// The advertised multicast groups, so callers can subscribe by
	// name instead of hunting for numeric ids.
	c.genlGroups = make(map[string]uint32)
	if grps, ok := reply.First(ctrlAttrMcastGroups); ok {
		entries, err := grps.Nested()
		if err != nil {
			return fmt.Errorf("parsing multicast group list: %w", err)
		}
		for _, entry := range entries {
			fields, err := entry.Nested()
			if err != nil {
				return fmt.Errorf("parsing multicast group entry: %w", err)
			}
			name, nok := fields.First(ctrlAttrMcastGrpName)
			gid, gok := fields.First(ctrlAttrMcastGrpID)
			if !nok || !gok {
				continue
			}
			g, err := gid.Uint32()
			if err != nil {
				return fmt.Errorf("parsing multicast group id: %w", err)
			}
			c.genlGroups[name.String()] = g
		}
	}

	return nil
}
