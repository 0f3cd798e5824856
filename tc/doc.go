// Package tc encodes Linux traffic-control configuration: queueing
// disciplines, classes, filters and their actions, expressed as typed
// parameters and translated into the attribute trees, fixed-point
// values and rate tables the kernel's pkt_sched interface expects.
//
// A Client drives the encoders over a routing-protocol nlkit.Conn. The
// package configures kernel-side shaping; it does not model it.
package tc
