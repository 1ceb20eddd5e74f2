package storage

import (
	"runtime"
	"sync/atomic"
)

type slotHeader struct {
	lock        atomic.Uint32
	txnID       atomic.Uint64
	readTS      atomic.Uint64
	begin       atomic.Uint64
	end         atomic.Uint64
	next        atomic.Uint64
	prev        atomic.Uint64
	indirection atomic.Pointer[atomic.Uint64]
}

// TileGroupHeader holds the version metadata of every slot in a tile group.
// Every field is an atomic; readers and writers never take a coarse lock. The
// per slot spin lock orders updates of the last reader and owner together.
type TileGroupHeader struct {
	slots    []slotHeader
	nextSlot atomic.Uint32
}

func NewTileGroupHeader(capacity int) *TileGroupHeader {
	tgh := &TileGroupHeader{
		slots: make([]slotHeader, capacity),
	}
	for slot := range tgh.slots {
		tgh.resetSlot(Oid(slot))
	}
	return tgh
}

func (tgh *TileGroupHeader) resetSlot(slot Oid) {
	sh := &tgh.slots[slot]
	sh.txnID.Store(uint64(InvalidTxnID))
	sh.readTS.Store(uint64(InvalidCID))
	sh.begin.Store(uint64(MaxCID))
	sh.end.Store(uint64(MaxCID))
	sh.next.Store(InvalidItemPointer.Pack())
	sh.prev.Store(InvalidItemPointer.Pack())
	sh.indirection.Store(nil)
}

func (tgh *TileGroupHeader) Capacity() int {
	return len(tgh.slots)
}

// GetNextEmptyTupleSlot claims the next unused slot; it returns InvalidOid when
// the tile group is full.
func (tgh *TileGroupHeader) GetNextEmptyTupleSlot() Oid {
	slot := tgh.nextSlot.Add(1) - 1
	if int(slot) >= len(tgh.slots) {
		return InvalidOid
	}
	return Oid(slot)
}

// GetCurrentNextTupleSlot returns the number of slots handed out so far.
func (tgh *TileGroupHeader) GetCurrentNextTupleSlot() Oid {
	next := tgh.nextSlot.Load()
	if int(next) > len(tgh.slots) {
		return Oid(len(tgh.slots))
	}
	return Oid(next)
}

// GetActiveTupleCount counts the slots holding a version that has not been
// invalidated.
func (tgh *TileGroupHeader) GetActiveTupleCount() int {
	cnt := 0
	for slot := Oid(0); slot < tgh.GetCurrentNextTupleSlot(); slot++ {
		if tgh.GetTransactionId(slot) != InvalidTxnID {
			cnt += 1
		}
	}
	return cnt
}

func (tgh *TileGroupHeader) GetTransactionId(slot Oid) TxnID {
	return TxnID(tgh.slots[slot].txnID.Load())
}

func (tgh *TileGroupHeader) SetTransactionId(slot Oid, txn TxnID) {
	tgh.slots[slot].txnID.Store(uint64(txn))
}

// SetAtomicTransactionId claims an unowned slot for txn. It reports false if the
// slot is owned by another transaction.
func (tgh *TileGroupHeader) SetAtomicTransactionId(slot Oid, txn TxnID) bool {
	return tgh.slots[slot].txnID.CompareAndSwap(uint64(InitialTxnID), uint64(txn))
}

func (tgh *TileGroupHeader) GetLastReaderCommitId(slot Oid) CID {
	return CID(tgh.slots[slot].readTS.Load())
}

func (tgh *TileGroupHeader) SetLastReaderCommitId(slot Oid, cid CID) {
	tgh.slots[slot].readTS.Store(uint64(cid))
}

func (tgh *TileGroupHeader) GetBeginCommitId(slot Oid) CID {
	return CID(tgh.slots[slot].begin.Load())
}

func (tgh *TileGroupHeader) SetBeginCommitId(slot Oid, cid CID) {
	tgh.slots[slot].begin.Store(uint64(cid))
}

func (tgh *TileGroupHeader) GetEndCommitId(slot Oid) CID {
	return CID(tgh.slots[slot].end.Load())
}

func (tgh *TileGroupHeader) SetEndCommitId(slot Oid, cid CID) {
	tgh.slots[slot].end.Store(uint64(cid))
}

// GetNextItemPointer returns the next older version of the tuple.
func (tgh *TileGroupHeader) GetNextItemPointer(slot Oid) ItemPointer {
	return UnpackItemPointer(tgh.slots[slot].next.Load())
}

func (tgh *TileGroupHeader) SetNextItemPointer(slot Oid, ip ItemPointer) {
	tgh.slots[slot].next.Store(ip.Pack())
}

// GetPrevItemPointer returns the next newer version of the tuple.
func (tgh *TileGroupHeader) GetPrevItemPointer(slot Oid) ItemPointer {
	return UnpackItemPointer(tgh.slots[slot].prev.Load())
}

func (tgh *TileGroupHeader) SetPrevItemPointer(slot Oid, ip ItemPointer) {
	tgh.slots[slot].prev.Store(ip.Pack())
}

// GetIndirection returns the cell, shared with the index entries of the tuple,
// which points at the newest version.
func (tgh *TileGroupHeader) GetIndirection(slot Oid) *atomic.Uint64 {
	return tgh.slots[slot].indirection.Load()
}

func (tgh *TileGroupHeader) SetIndirection(slot Oid, cell *atomic.Uint64) {
	tgh.slots[slot].indirection.Store(cell)
}

// LockTupleSlot spins until the slot lock is held.
func (tgh *TileGroupHeader) LockTupleSlot(slot Oid) {
	lock := &tgh.slots[slot].lock
	for !lock.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (tgh *TileGroupHeader) UnlockTupleSlot(slot Oid) {
	tgh.slots[slot].lock.Store(0)
}
