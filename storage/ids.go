package storage

import (
	"fmt"
	"math"
)

type Oid uint32

const (
	InvalidOid Oid = math.MaxUint32
	StartOid   Oid = 0
)

// TxnID identifies a transaction; it is also stored in every tuple slot header
// to mark the owner of the slot.
type TxnID uint64

const (
	// InvalidTxnID marks a slot that holds no live version.
	InvalidTxnID TxnID = 0
	// InitialTxnID marks a committed version that no transaction owns.
	InitialTxnID TxnID = 1
	MaxTxnID     TxnID = math.MaxUint64
)

// CID is a commit id: the logical timestamp of a snapshot or a commit.
type CID uint64

const (
	InvalidCID CID = 0
	MaxCID     CID = math.MaxUint64
)

type EpochID uint64

// ItemPointer names a tuple slot: the tile group id and the offset of the slot
// within the tile group.
type ItemPointer struct {
	Block  Oid
	Offset Oid
}

var InvalidItemPointer = ItemPointer{Block: InvalidOid, Offset: InvalidOid}

func (ip ItemPointer) IsNull() bool {
	return ip.Block == InvalidOid && ip.Offset == InvalidOid
}

// Pack returns the pointer as a single word so that it can be stored and
// swapped atomically.
func (ip ItemPointer) Pack() uint64 {
	return uint64(ip.Block)<<32 | uint64(ip.Offset)
}

func UnpackItemPointer(u uint64) ItemPointer {
	return ItemPointer{Block: Oid(u >> 32), Offset: Oid(u)}
}

func (ip ItemPointer) String() string {
	if ip.IsNull() {
		return "(null)"
	}
	return fmt.Sprintf("(%d, %d)", ip.Block, ip.Offset)
}
