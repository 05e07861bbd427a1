package field

import (
	"bytes"
	"encoding/binary"
	"math/bits"
)

// Kind tags a field so that AddKnown can pick default callbacks for it.
// Address-kind fields compare as raw byte sequences; all other built-in
// kinds are host-byte-order fixed-width unsigned integers compared
// numerically.
type Kind int

const (
	KindSrcAddrV4 Kind = iota
	KindDstAddrV4
	KindSrcAddrV6
	KindDstAddrV6
	KindSrcPort
	KindDstPort
	KindProtocol
	KindPackets
	KindBytes
	KindFlags
	KindStartTime
	KindEndTime
	KindInputInterface
	KindOutputInterface
	KindSumU64
	KindMinU64
	KindMaxU64
	KindRecordCount
	KindSumElapsed
	// KindCaller tags arbitrary user-defined fields. It has no known
	// default and may only be installed via AddCustom.
	KindCaller
)

func (k Kind) String() string {
	switch k {
	case KindSrcAddrV4:
		return "SrcAddrV4"
	case KindDstAddrV4:
		return "DstAddrV4"
	case KindSrcAddrV6:
		return "SrcAddrV6"
	case KindDstAddrV6:
		return "DstAddrV6"
	case KindSrcPort:
		return "SrcPort"
	case KindDstPort:
		return "DstPort"
	case KindProtocol:
		return "Protocol"
	case KindPackets:
		return "Packets"
	case KindBytes:
		return "Bytes"
	case KindFlags:
		return "Flags"
	case KindStartTime:
		return "StartTime"
	case KindEndTime:
		return "EndTime"
	case KindInputInterface:
		return "InputInterface"
	case KindOutputInterface:
		return "OutputInterface"
	case KindSumU64:
		return "SumU64"
	case KindMinU64:
		return "MinU64"
	case KindMaxU64:
		return "MaxU64"
	case KindRecordCount:
		return "RecordCount"
	case KindSumElapsed:
		return "SumElapsed"
	case KindCaller:
		return "Caller"
	default:
		return "Unknown"
	}
}

type kindDefault struct {
	width   int
	address bool // raw byte-sequence compare, not numeric
	initial func(width int) []byte
	merge   MergeFunc
}

func zeroInitial(width int) []byte { return make([]byte, width) }

func maxInitial(width int) []byte {
	b := make([]byte, width)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

var kindTable = map[Kind]kindDefault{
	KindSrcAddrV4:       {width: 4, address: true, initial: zeroInitial, merge: overwriteMerge},
	KindDstAddrV4:       {width: 4, address: true, initial: zeroInitial, merge: overwriteMerge},
	KindSrcAddrV6:       {width: 16, address: true, initial: zeroInitial, merge: overwriteMerge},
	KindDstAddrV6:       {width: 16, address: true, initial: zeroInitial, merge: overwriteMerge},
	KindSrcPort:         {width: 2, initial: zeroInitial, merge: overwriteMerge},
	KindDstPort:         {width: 2, initial: zeroInitial, merge: overwriteMerge},
	KindProtocol:        {width: 1, initial: zeroInitial, merge: overwriteMerge},
	KindPackets:         {width: 8, initial: zeroInitial, merge: saturatingSumMerge},
	KindBytes:           {width: 8, initial: zeroInitial, merge: saturatingSumMerge},
	KindFlags:           {width: 1, initial: zeroInitial, merge: orMerge},
	KindStartTime:       {width: 8, initial: maxInitial, merge: minMerge},
	KindEndTime:         {width: 8, initial: zeroInitial, merge: maxMerge},
	KindInputInterface:  {width: 4, initial: zeroInitial, merge: overwriteMerge},
	KindOutputInterface: {width: 4, initial: zeroInitial, merge: overwriteMerge},
	KindSumU64:          {width: 8, initial: zeroInitial, merge: saturatingSumMerge},
	KindMinU64:          {width: 8, initial: maxInitial, merge: minMerge},
	KindMaxU64:          {width: 8, initial: zeroInitial, merge: maxMerge},
	KindRecordCount:     {width: 8, initial: zeroInitial, merge: saturatingSumMerge},
	KindSumElapsed:      {width: 8, initial: zeroInitial, merge: saturatingSumMerge},
}

// knownDescriptor builds the Descriptor for a preregistered kind. Most
// kinds require ctx to implement Accessor; KindRecordCount ignores ctx
// entirely since its Extract always yields the constant 1.
func knownDescriptor(kind Kind, ctx any) (Descriptor, error) {
	if kind == KindCaller {
		return Descriptor{}, &configError{"KindCaller has no known default; use AddCustom"}
	}
	def, ok := kindTable[kind]
	if !ok {
		return Descriptor{}, &configError{"unrecognized field kind"}
	}

	d := Descriptor{
		Kind:    kind,
		Width:   def.width,
		Initial: def.initial(def.width),
		Merge:   def.merge,
	}

	if def.address {
		d.Compare = bytewiseCompare
	} else {
		d.Compare = numericCompare
	}

	if kind == KindRecordCount {
		d.Extract = constantOneExtract
		return d, nil
	}

	acc, ok := ctx.(Accessor)
	if !ok {
		return Descriptor{}, &configError{"known field requires ctx implementing Accessor"}
	}
	d.Ctx = acc
	d.Extract = func(rec Record, ctx any, out []byte) {
		ctx.(Accessor).Read(rec, out)
	}
	return d, nil
}

func bytewiseCompare(a, b []byte, _ any) int {
	return bytes.Compare(a, b)
}

func overwriteMerge(dst, src []byte, _ any) {
	copy(dst, src)
}

func constantOneExtract(_ Record, _ any, out []byte) {
	putUintAt(out, 1)
}

func uintAt(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.NativeEndian.Uint16(b))
	case 4:
		return uint64(binary.NativeEndian.Uint32(b))
	case 8:
		return binary.NativeEndian.Uint64(b)
	default:
		var v uint64
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return v
	}
}

func putUintAt(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.NativeEndian.PutUint16(b, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(b, uint32(v))
	case 8:
		binary.NativeEndian.PutUint64(b, v)
	default:
		for i := 0; i < len(b); i++ {
			b[i] = byte(v)
			v >>= 8
		}
	}
}

func maxForWidth(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (uint(width) * 8)) - 1
}

func numericCompare(a, b []byte, _ any) int {
	va, vb := uintAt(a), uintAt(b)
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}

// saturatingSumMerge adds src into dst, clamping to the maximum
// unsigned value representable in dst's width instead of wrapping.
func saturatingSumMerge(dst, src []byte, _ any) {
	va, vb := uintAt(dst), uintAt(src)
	if len(dst) >= 8 {
		sum, carry := bits.Add64(va, vb, 0)
		if carry != 0 {
			sum = ^uint64(0)
		}
		putUintAt(dst, sum)
		return
	}
	max := maxForWidth(len(dst))
	sum := va + vb
	if sum > max {
		sum = max
	}
	putUintAt(dst, sum)
}

func minMerge(dst, src []byte, _ any) {
	if uintAt(src) < uintAt(dst) {
		copy(dst, src)
	}
}

func maxMerge(dst, src []byte, _ any) {
	if uintAt(src) > uintAt(dst) {
		copy(dst, src)
	}
}

func orMerge(dst, src []byte, _ any) {
	putUintAt(dst, uintAt(dst)|uintAt(src))
}
