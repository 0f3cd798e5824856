package tc

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/scitags/nlkit/nlmsg"
)

// Link layers, from linux/pkt_sched.h. ATM framing pads every cell to
// 53 bytes and changes the effective wire cost of a packet.
const (
	LinklayerUnspec   uint8 = 0
	LinklayerEthernet uint8 = 1
	LinklayerATM      uint8 = 2

	linklayerMask = 0x0F

	atmCellSize    = 53
	atmCellPayload = 48
)

const (
	sizeofRateSpec   = 12
	timeUnitsPerSec  = 1000000
	rateTableEntries = 256
)

// RateSpec is struct tc_ratespec: a rate in bytes per second plus the
// framing parameters that shape its byte-count accounting. CellLog and
// CellAlign are computed when a rate table is built; callers fill the
// rest.
type RateSpec struct {
	CellLog   uint8
	Linklayer uint8
	Overhead  uint16
	CellAlign int16
	Mpu       uint16
	Rate      uint32
}

func (r RateSpec) marshal() []byte {
	w := nlmsg.NewStructWriter(sizeofRateSpec)
	w.PutByte(r.CellLog)
	w.PutByte(r.Linklayer)
	w.PutUint16(r.Overhead)
	w.PutInt16(r.CellAlign)
	w.PutUint16(r.Mpu)
	w.PutUint32(r.Rate)
	b, _ := w.Bytes()
	return b
}

func rateSpecFromView(v *nlmsg.StructView) RateSpec {
	var r RateSpec
	r.CellLog = v.Byte()
	r.Linklayer = v.Byte()
	r.Overhead = v.Uint16()
	r.CellAlign = v.Int16()
	r.Mpu = v.Uint16()
	r.Rate = v.Uint32()
	return r
}

// psched holds the kernel clock conversion factors read from
// /proc/net/psched. The neutral defaults keep tick == microsecond,
// which is also what recent kernels report.
var psched = struct {
	once       sync.Once
	tickInUsec float64
}{tickInUsec: 1.0}

func initClock() {
	b, err := os.ReadFile("/proc/net/psched")
	if err != nil {
		slog.Debug("could not read /proc/net/psched, keeping neutral clock", "err", err)
		return
	}

	var t2us, us2t, clockRes, junk uint32
	if _, err := fmt.Sscanf(string(b), "%08x %08x %08x %08x", &t2us, &us2t, &clockRes, &junk); err != nil || us2t == 0 {
		slog.Debug("could not parse /proc/net/psched", "err", err)
		return
	}

	clockFactor := float64(clockRes) / timeUnitsPerSec
	psched.tickInUsec = float64(t2us) / float64(us2t) * clockFactor
}

func tickInUsec() float64 {
	psched.once.Do(initClock)
	return psched.tickInUsec
}

// Xmittime converts a byte count into the transmit time, in kernel
// clock ticks, at the given rate. Rounded up so a table built from it
// never undercharges a burst.
func Xmittime(rate uint64, size uint32) uint32 {
	usec := timeUnitsPerSec * float64(size) / float64(rate)
	return uint32(math.Ceil(usec * tickInUsec()))
}

// Xmitsize is the inverse: how many bytes the given tick budget buys at
// a rate. Used when decoding buffer fields back into bytes.
func Xmitsize(rate uint64, ticks uint32) uint32 {
	usec := float64(ticks) / tickInUsec()
	return uint32(usec * float64(rate) / timeUnitsPerSec)
}

// adjustSize applies minimum-packet and link-layer accounting to one
// cell's byte count.
func adjustSize(sz uint32, mpu uint16, linklayer uint8) uint32 {
	if sz < uint32(mpu) {
		sz = uint32(mpu)
	}
	if linklayer == LinklayerATM {
		return ((sz + atmCellPayload - 1) / atmCellPayload) * atmCellSize
	}
	return sz
}

// rateTable computes the kernel's 256-entry transmit-time lookup table
// for a rate. The cell log is the smallest power of two such that 256
// cells of (i+1)<<cellLog bytes cover an MTU-sized burst; entry i holds
// the tick cost of (i+1)<<cellLog bytes.
func rateTable(rate uint64, mpu uint16, linklayer uint8, mtu uint32) (cellLog uint8, table [rateTableEntries]uint32) {
	if mtu == 0 {
		mtu = 2047
	}

	var log uint
	for (mtu >> log) > rateTableEntries-1 {
		log++
	}

	for i := 0; i < rateTableEntries; i++ {
		sz := adjustSize(uint32(i+1)<<log, mpu, linklayer)
		table[i] = Xmittime(rate, sz)
	}
	return uint8(log), table
}

// Table fills in the spec's cell parameters and returns the marshalled
// 1024-byte rate table to emit alongside it.
func (r *RateSpec) Table(mtu uint32) ([]byte, error) {
	if r.Rate == 0 {
		return nil, fmt.Errorf("tc: cannot build a rate table for a zero rate")
	}

	cellLog, table := rateTable(uint64(r.Rate), r.Mpu, r.Linklayer&linklayerMask, mtu)
	r.CellLog = cellLog
	r.CellAlign = -1

	b := make([]byte, 4*rateTableEntries)
	for i, t := range table {
		hostEndian.PutUint32(b[4*i:], t)
	}
	return b, nil
}

// clampRate folds a 64-bit rate into the 32-bit ratespec field; rates
// past 4 GB/s additionally travel in a 64-bit attribute.
func clampRate(rate uint64) uint32 {
	if rate >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(rate)
}
