// Package nlkit is a typed client for the Linux netlink configuration
// protocols. It owns the transport and correlation engine: framing and
// sending requests, matching kernel replies (including multipart dumps
// and multicast notifications) back to their callers, and surfacing
// kernel rejections as typed errors.
//
// A Conn is dialled for one protocol identity: Route for the classic
// routing family with its fixed message numbering, or Generic(name) for
// a dynamically registered generic-netlink family whose numeric id is
// resolved once at dial time. Concurrent callers may issue requests on
// one Conn; isolation comes from sequence-number correlation, not from
// caller-side locking.
//
// Wire-level encoding and decoding lives in the nlmsg subpackage; the
// tc subpackage builds traffic-control configuration on top of both.
package nlkit
