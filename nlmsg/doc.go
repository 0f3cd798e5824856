// Package nlmsg implements the netlink wire format: the fixed message
// header, the type-length-value attribute encoding that follows it, and
// exact-size views over the kernel ABI structs embedded in payloads.
//
// Everything here operates on byte slices and performs no I/O; see the
// parent nlkit package for the connection machinery. The format itself is
// described in netlink(7) and include/uapi/linux/netlink.h.
package nlmsg
