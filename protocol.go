package nlkit

import (
	"context"
	"fmt"
)

// Netlink protocol numbers, from linux/netlink.h. Others are accepted
// through Raw.
const (
	protoRoute   = 0  // NETLINK_ROUTE
	protoGeneric = 16 // NETLINK_GENERIC
)

// A Protocol is the identity a connection is dialled for. It selects
// the kernel protocol number and, for dynamically registered families,
// the one-time resolution handshake run at dial time. The two variants
// are Route/Raw (statically numbered message types) and Generic
// (family id resolved by name and cached on the Conn).
type Protocol interface {
	family() int
	resolve(ctx context.Context, c *Conn) error
	String() string
}

type staticProtocol struct {
	proto int
	name  string
}

func (p staticProtocol) family() int { return p.proto }

func (p staticProtocol) resolve(context.Context, *Conn) error { return nil }

func (p staticProtocol) String() string { return p.name }

// Route is the classic routing protocol family (links, addresses,
// routes, traffic control) with fixed RTM_* message numbering.
func Route() Protocol {
	return staticProtocol{proto: protoRoute, name: "route"}
}

// Raw is a statically numbered protocol identified by its raw netlink
// protocol number, for families this package has no named constructor
// for (sock_diag, netfilter, ...).
func Raw(proto int) Protocol {
	return staticProtocol{proto: proto, name: fmt.Sprintf("netlink-%d", proto)}
}

type genericProtocol struct {
	name string
}

// Generic is a generic-netlink sub-protocol (macsec, mptcp_pm, ...)
// registered under a family name. Dialling it resolves the numeric
// family id via nlctrl and caches it for the connection's lifetime; it
// is never re-resolved, even after transient send or receive errors.
func Generic(family string) Protocol {
	return genericProtocol{name: family}
}

func (p genericProtocol) family() int { return protoGeneric }

func (p genericProtocol) String() string { return "generic/" + p.name }

// FamilyID returns the numeric family identifier cached at dial time.
// It is meaningful only for Generic connections; elsewhere it is zero.
func (c *Conn) FamilyID() uint16 {
	return c.familyID
}

// GenericGroup looks up a multicast group id advertised by the resolved
// generic family under the given group name.
func (c *Conn) GenericGroup(name string) (uint32, bool) {
	id, ok := c.genlGroups[name]
	return id, ok
}
