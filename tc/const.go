package tc

// rtnetlink message types for traffic-control objects, from
// linux/rtnetlink.h.
const (
	rtmNewQdisc  uint16 = 36
	rtmDelQdisc  uint16 = 37
	rtmGetQdisc  uint16 = 38
	rtmNewClass  uint16 = 40
	rtmDelClass  uint16 = 41
	rtmGetClass  uint16 = 42
	rtmNewFilter uint16 = 44
	rtmDelFilter uint16 = 45
	rtmGetFilter uint16 = 46
)

// RTNLGRP_TC, the multicast group carrying qdisc/class/filter change
// notifications.
const groupTC uint32 = 4

// Top-level attributes shared by qdiscs, classes and filters, from
// linux/rtnetlink.h.
const (
	tcaKind    uint16 = 1
	tcaOptions uint16 = 2
	tcaStats   uint16 = 3
	tcaXstats  uint16 = 4
	tcaRate    uint16 = 5
	tcaStats2  uint16 = 7
	tcaStab    uint16 = 8
	tcaChain   uint16 = 11
)

// HTB options, from linux/pkt_sched.h.
const (
	tcaHtbParms      uint16 = 1
	tcaHtbInit       uint16 = 2
	tcaHtbCtab       uint16 = 3
	tcaHtbRtab       uint16 = 4
	tcaHtbDirectQlen uint16 = 5
	tcaHtbRate64     uint16 = 6
	tcaHtbCeil64     uint16 = 7
)

// TBF options.
const (
	tcaTbfParms  uint16 = 1
	tcaTbfRtab   uint16 = 2
	tcaTbfPtab   uint16 = 3
	tcaTbfRate64 uint16 = 4
	tcaTbfPrate64 uint16 = 5
	tcaTbfBurst  uint16 = 6
	tcaTbfPburst uint16 = 7
)

// fq_codel options.
const (
	tcaFqCodelTarget   uint16 = 1
	tcaFqCodelLimit    uint16 = 2
	tcaFqCodelInterval uint16 = 3
	tcaFqCodelECN      uint16 = 4
	tcaFqCodelFlows    uint16 = 5
	tcaFqCodelQuantum  uint16 = 6
)

// u32 filter options, from linux/pkt_cls.h.
const (
	tcaU32Classid uint16 = 1
	tcaU32Divisor uint16 = 4
	tcaU32Sel     uint16 = 5
	tcaU32Act     uint16 = 7
	tcaU32Mark    uint16 = 10
)

// fw filter options.
const (
	tcaFwClassid uint16 = 1
	tcaFwIndev   uint16 = 3
	tcaFwAct     uint16 = 4
	tcaFwMask    uint16 = 5
)

// Per-action attributes, from linux/pkt_cls.h.
const (
	tcaActKind    uint16 = 1
	tcaActOptions uint16 = 2
	tcaActIndex   uint16 = 3
)

// gact options.
const (
	tcaGactTm    uint16 = 1
	tcaGactParms uint16 = 2
)

// mirred options.
const (
	tcaMirredTm    uint16 = 1
	tcaMirredParms uint16 = 2
)

// u32 selector flags.
const (
	selTerminal uint8 = 1 << 0 // TC_U32_TERMINAL
)
