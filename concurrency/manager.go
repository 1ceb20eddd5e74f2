package concurrency

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/storage"
)

var (
	ErrConflict  = errors.New("transaction conflict")
	ErrNotFound  = errors.New("tuple not found")
	ErrNotActive = errors.New("transaction not active")
	ErrReadOnly  = errors.New("transaction is read only")
)

type VisibilityType int

const (
	Invisible VisibilityType = iota
	Deleted
	VisibleOK
)

func (vt VisibilityType) String() string {
	switch vt {
	case Invisible:
		return "INVISIBLE"
	case Deleted:
		return "DELETED"
	case VisibleOK:
		return "OK"
	}
	return fmt.Sprintf("VisibilityType(%d)", int(vt))
}

// TransactionManager implements timestamp ordering: a transaction reads and
// commits at the commit id it was given when it began. Writers take ownership
// of the newest version of a tuple with a compare and swap on its transaction
// id; readers record the largest commit id that read each version.
type TransactionManager struct {
	mutex        sync.Mutex
	st           *storage.Manager
	epochs       *EpochManager
	isolation    IsolationLevel
	transactions map[*TransactionContext]struct{}
	objectLocks  ObjectLocks
}

func NewTransactionManager(st *storage.Manager, em *EpochManager,
	isolation IsolationLevel) *TransactionManager {

	return &TransactionManager{
		st:           st,
		epochs:       em,
		isolation:    isolation,
		transactions: map[*TransactionContext]struct{}{},
	}
}

func (tm *TransactionManager) Storage() *storage.Manager {
	return tm.st
}

func (tm *TransactionManager) EpochManager() *EpochManager {
	return tm.epochs
}

func (tm *TransactionManager) ObjectLocks() *ObjectLocks {
	return &tm.objectLocks
}

func (tm *TransactionManager) DefaultIsolation() IsolationLevel {
	return tm.isolation
}

func (tm *TransactionManager) begin(isolation IsolationLevel, readOnly bool) *TransactionContext {
	txn := newTransaction(tm.epochs.EnterEpoch(), isolation, readOnly)

	tm.mutex.Lock()
	tm.transactions[txn] = struct{}{}
	tm.mutex.Unlock()
	return txn
}

// BeginTransaction starts a read write transaction.
func (tm *TransactionManager) BeginTransaction(isolation IsolationLevel) *TransactionContext {
	if isolation == ReadOnly {
		return tm.begin(ReadOnly, true)
	}
	return tm.begin(isolation, false)
}

// BeginReadonlyTransaction starts a transaction that reads a snapshot and
// never records reads or takes ownership.
func (tm *TransactionManager) BeginReadonlyTransaction() *TransactionContext {
	return tm.begin(ReadOnly, true)
}

func (tm *TransactionManager) removeTransaction(txn *TransactionContext) {
	tm.mutex.Lock()
	delete(tm.transactions, txn)
	tm.mutex.Unlock()

	txn.locker.unlock()
}

// ActiveTransactions is the number of transactions begun and not yet ended.
func (tm *TransactionManager) ActiveTransactions() int {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	return len(tm.transactions)
}

// SetTransactionResult records the outcome of the last operation; callers stop
// processing a transaction once its result is a failure.
func (tm *TransactionManager) SetTransactionResult(txn *TransactionContext, result ResultType) {
	txn.result = result
}

// EndTransaction commits txn if every operation succeeded and aborts it
// otherwise.
func (tm *TransactionManager) EndTransaction(txn *TransactionContext) ResultType {
	if txn.result == ResultSuccess {
		return tm.CommitTransaction(txn)
	}
	return tm.AbortTransaction(txn)
}

func (tm *TransactionManager) tileGroupHeader(location storage.ItemPointer) *storage.TileGroupHeader {
	tg := tm.st.GetTileGroup(location.Block)
	if tg == nil {
		panic(fmt.Sprintf("concurrency: missing tile group %d", location.Block))
	}
	return tg.Header()
}

// VisibleAt reports whether a version with the given header fields is part of
// the snapshot taken at readCID. It depends on nothing else.
func VisibleAt(txnID storage.TxnID, begin, end, readCID storage.CID) bool {
	if txnID == storage.InvalidTxnID {
		return false
	}
	if txnID != storage.InitialTxnID && begin == storage.MaxCID {
		return false
	}
	return readCID >= begin && readCID < end
}

// IsVisible decides what txn sees at slot: the version itself, a deletion of
// the tuple, or nothing (in which case an older version may be visible).
func (tm *TransactionManager) IsVisible(txn *TransactionContext, tgh *storage.TileGroupHeader,
	slot storage.Oid) VisibilityType {

	txnID := tgh.GetTransactionId(slot)
	begin := tgh.GetBeginCommitId(slot)
	end := tgh.GetEndCommitId(slot)

	activated := txn.cid >= begin
	invalidated := txn.cid >= end

	if txnID == storage.InvalidTxnID {
		if activated && !invalidated {
			return Deleted
		}
		return Invisible
	}

	if txnID == txn.txnID {
		if begin == storage.MaxCID && end != storage.InvalidCID {
			return VisibleOK
		}
		if end == storage.InvalidCID {
			return Deleted
		}
		// An older version txn has locked but not yet replaced.
		if tgh.GetPrevItemPointer(slot).IsNull() && activated && !invalidated {
			return VisibleOK
		}
		return Invisible
	}

	if txnID != storage.InitialTxnID && begin == storage.MaxCID {
		return Invisible
	}
	if activated && !invalidated {
		return VisibleOK
	}
	return Invisible
}

// IsOwner reports whether txn holds the write lock on slot.
func (tm *TransactionManager) IsOwner(txn *TransactionContext, tgh *storage.TileGroupHeader,
	slot storage.Oid) bool {

	return tgh.GetTransactionId(slot) == txn.txnID
}

// IsWritten reports whether slot is a version written by its owner and not yet
// committed, as opposed to an older version the owner has locked.
func (tm *TransactionManager) IsWritten(txn *TransactionContext, tgh *storage.TileGroupHeader,
	slot storage.Oid) bool {

	return tgh.GetBeginCommitId(slot) == storage.MaxCID &&
		tgh.GetEndCommitId(slot) != storage.InvalidCID
}

// IsOwnable reports whether slot is unowned and is the newest committed
// version of its tuple.
func (tm *TransactionManager) IsOwnable(txn *TransactionContext, tgh *storage.TileGroupHeader,
	slot storage.Oid) bool {

	return tgh.GetTransactionId(slot) == storage.InitialTxnID &&
		tgh.GetEndCommitId(slot) == storage.MaxCID
}

// AcquireOwnership claims slot for txn. It fails if a later transaction has
// already read the version or if another writer claimed it first.
func (tm *TransactionManager) AcquireOwnership(txn *TransactionContext,
	tgh *storage.TileGroupHeader, slot storage.Oid) bool {

	tgh.LockTupleSlot(slot)
	defer tgh.UnlockTupleSlot(slot)

	if tgh.GetLastReaderCommitId(slot) > txn.cid {
		return false
	}
	if !tgh.SetAtomicTransactionId(slot, txn.txnID) {
		return false
	}
	// Another writer may have committed a newer version after IsOwnable.
	if tgh.GetEndCommitId(slot) != storage.MaxCID {
		tgh.SetTransactionId(slot, storage.InitialTxnID)
		return false
	}
	return true
}

// YieldOwnership releases ownership that was acquired but not used.
func (tm *TransactionManager) YieldOwnership(txn *TransactionContext,
	tgh *storage.TileGroupHeader, slot storage.Oid) {

	if tgh.GetTransactionId(slot) != txn.txnID {
		panic(fmt.Sprintf("concurrency: %s yielding slot it does not own", txn))
	}
	tgh.SetTransactionId(slot, storage.InitialTxnID)
}

// setLastReaderCommitId raises the read timestamp of slot to cid. Unless the
// reader is the owner, it fails if the version is owned.
func setLastReaderCommitId(tgh *storage.TileGroupHeader, slot storage.Oid, cid storage.CID,
	isOwner bool) bool {

	tgh.LockTupleSlot(slot)
	defer tgh.UnlockTupleSlot(slot)

	if !isOwner && tgh.GetTransactionId(slot) != storage.InitialTxnID {
		return false
	}
	if tgh.GetLastReaderCommitId(slot) < cid {
		tgh.SetLastReaderCommitId(slot, cid)
	}
	return true
}

// IsOccupied reports whether slot holds a version that keeps its key out of a
// unique index: a live committed version, or an uncommitted insert or update
// by any transaction. Committed versions inserted after the snapshot of txn
// still occupy their keys.
func (tm *TransactionManager) IsOccupied(txn *TransactionContext, tgh *storage.TileGroupHeader,
	slot storage.Oid) bool {

	txnID := tgh.GetTransactionId(slot)
	begin := tgh.GetBeginCommitId(slot)
	end := tgh.GetEndCommitId(slot)

	if txnID == storage.InvalidTxnID {
		return false
	}

	if txnID == txn.txnID {
		if begin == storage.MaxCID {
			return end != storage.InvalidCID
		}
		// A locked older version occupies its key until txn writes a newer one.
		return tgh.GetPrevItemPointer(slot).IsNull()
	}

	if txnID != storage.InitialTxnID && begin == storage.MaxCID {
		return end != storage.InvalidCID
	}
	return txn.cid < end
}

// PerformRead records that txn read location. With acquire, the read also takes
// ownership of the version, as for SELECT ... FOR UPDATE. It returns false if
// the read conflicts; the caller must abort.
func (tm *TransactionManager) PerformRead(txn *TransactionContext, location storage.ItemPointer,
	acquire bool) bool {

	if txn.readOnly {
		return true
	}

	tgh := tm.tileGroupHeader(location)
	slot := location.Offset

	if tm.IsOwner(txn, tgh, slot) {
		return true
	}

	if acquire {
		if !tm.IsOwnable(txn, tgh, slot) || !tm.AcquireOwnership(txn, tgh, slot) {
			return false
		}
		setLastReaderCommitId(tgh, slot, txn.cid, true)
		txn.RecordReadOwn(location)
		return true
	}

	if !setLastReaderCommitId(tgh, slot, txn.cid, false) {
		return false
	}
	txn.RecordRead(location)
	return true
}

// PerformInsert takes ownership of a new version at location; cell, if not
// nil, is the indirection cell the table's indexes point at. The owner is
// stored last so that a slot with an owner always reads as an uncommitted
// insert.
func (tm *TransactionManager) PerformInsert(txn *TransactionContext, location storage.ItemPointer,
	cell *atomic.Uint64) {

	tgh := tm.tileGroupHeader(location)
	slot := location.Offset

	if tgh.GetTransactionId(slot) != storage.InvalidTxnID {
		panic(fmt.Sprintf("concurrency: insert into occupied slot %s", location))
	}

	tgh.SetLastReaderCommitId(slot, txn.cid)
	tgh.SetBeginCommitId(slot, storage.MaxCID)
	tgh.SetEndCommitId(slot, storage.MaxCID)
	tgh.SetNextItemPointer(slot, storage.InvalidItemPointer)
	tgh.SetPrevItemPointer(slot, storage.InvalidItemPointer)
	if cell != nil {
		tgh.SetIndirection(slot, cell)
	}
	tgh.SetTransactionId(slot, txn.txnID)

	txn.RecordInsert(location)
}

func (tm *TransactionManager) setIndirection(location storage.ItemPointer, cell *atomic.Uint64) {
	tm.tileGroupHeader(location).SetIndirection(location.Offset, cell)
}

// linkVersion makes newLocation the newest version of the tuple whose current
// newest version is oldLocation, which txn owns.
func (tm *TransactionManager) linkVersion(txn *TransactionContext, oldLocation,
	newLocation storage.ItemPointer, end storage.CID) {

	oldTGH := tm.tileGroupHeader(oldLocation)
	newTGH := tm.tileGroupHeader(newLocation)
	oldSlot := oldLocation.Offset
	newSlot := newLocation.Offset

	if newTGH.GetTransactionId(newSlot) != storage.InvalidTxnID {
		panic(fmt.Sprintf("concurrency: new version in occupied slot %s", newLocation))
	}

	newTGH.SetTransactionId(newSlot, txn.txnID)
	newTGH.SetLastReaderCommitId(newSlot, txn.cid)
	newTGH.SetBeginCommitId(newSlot, storage.MaxCID)
	newTGH.SetEndCommitId(newSlot, end)

	// The new version is linked before the indirection cell moves to it, so a
	// reader starting from the cell always finds the older versions.
	newTGH.SetPrevItemPointer(newSlot, oldTGH.GetPrevItemPointer(oldSlot))
	newTGH.SetNextItemPointer(newSlot, oldLocation)
	oldTGH.SetPrevItemPointer(oldSlot, newLocation)

	cell := oldTGH.GetIndirection(oldSlot)
	newTGH.SetIndirection(newSlot, cell)
	if cell != nil {
		cell.Store(newLocation.Pack())
	}
}

// PerformUpdate installs newLocation as the newest version of the tuple at
// oldLocation; txn must own oldLocation.
func (tm *TransactionManager) PerformUpdate(txn *TransactionContext, oldLocation,
	newLocation storage.ItemPointer) {

	if !tm.IsOwner(txn, tm.tileGroupHeader(oldLocation), oldLocation.Offset) {
		panic(fmt.Sprintf("concurrency: %s updating unowned version %s", txn, oldLocation))
	}

	tm.linkVersion(txn, oldLocation, newLocation, storage.MaxCID)
	txn.RecordUpdate(oldLocation)
}

// PerformUpdateInPlace records an update of a version txn already wrote.
func (tm *TransactionManager) PerformUpdateInPlace(txn *TransactionContext,
	location storage.ItemPointer) {

	tgh := tm.tileGroupHeader(location)
	next := tgh.GetNextItemPointer(location.Offset)
	if !next.IsNull() {
		txn.RecordUpdate(next)
	}
}

// PerformDelete installs a tombstone at newLocation as the newest version of
// the tuple at oldLocation; txn must own oldLocation.
func (tm *TransactionManager) PerformDelete(txn *TransactionContext, oldLocation,
	newLocation storage.ItemPointer) {

	if !tm.IsOwner(txn, tm.tileGroupHeader(oldLocation), oldLocation.Offset) {
		panic(fmt.Sprintf("concurrency: %s deleting unowned version %s", txn, oldLocation))
	}

	tm.linkVersion(txn, oldLocation, newLocation, storage.InvalidCID)
	txn.RecordDelete(oldLocation)
}

// PerformDeleteInPlace deletes a version txn already wrote: its own insert or
// its own new version of an older tuple.
func (tm *TransactionManager) PerformDeleteInPlace(txn *TransactionContext,
	location storage.ItemPointer) {

	tgh := tm.tileGroupHeader(location)
	slot := location.Offset
	tgh.SetEndCommitId(slot, storage.InvalidCID)

	next := tgh.GetNextItemPointer(slot)
	if next.IsNull() {
		txn.RecordDelete(location)
	} else {
		txn.RecordDelete(next)
	}
}

// CommitTransaction makes every version written by txn visible at its commit id
// and releases ownership.
func (tm *TransactionManager) CommitTransaction(txn *TransactionContext) ResultType {
	if txn.state != TxnActive {
		panic(fmt.Sprintf("concurrency: commit of %s", txn))
	}
	if txn.readOnly {
		txn.state = TxnCommitted
		tm.removeTransaction(txn)
		return ResultSuccess
	}

	cid := txn.cid
	for _, location := range txn.rwOrder {
		tgh := tm.tileGroupHeader(location)
		slot := location.Offset

		switch txn.rwSet[location] {
		case RWRead:
		case RWReadOwn:
			tgh.SetTransactionId(slot, storage.InitialTxnID)
		case RWUpdate, RWDelete:
			newLocation := tgh.GetPrevItemPointer(slot)
			newTGH := tm.tileGroupHeader(newLocation)
			newTGH.SetBeginCommitId(newLocation.Offset, cid)
			newTGH.SetEndCommitId(newLocation.Offset, storage.MaxCID)
			tgh.SetEndCommitId(slot, cid)
			if txn.rwSet[location] == RWDelete {
				newTGH.SetTransactionId(newLocation.Offset, storage.InvalidTxnID)
			} else {
				newTGH.SetTransactionId(newLocation.Offset, storage.InitialTxnID)
			}
			tgh.SetTransactionId(slot, storage.InitialTxnID)
		case RWInsert:
			tgh.SetBeginCommitId(slot, cid)
			tgh.SetEndCommitId(slot, storage.MaxCID)
			tgh.SetTransactionId(slot, storage.InitialTxnID)
		case RWInsDel:
			tgh.SetBeginCommitId(slot, storage.MaxCID)
			tgh.SetEndCommitId(slot, storage.MaxCID)
			tgh.SetTransactionId(slot, storage.InvalidTxnID)
		}
	}

	for _, or := range txn.dropped {
		tm.dropObject(or)
	}

	txn.state = TxnCommitted
	txn.result = ResultSuccess
	tm.removeTransaction(txn)

	for _, fn := range txn.onCommit {
		fn()
	}

	log.WithFields(log.Fields{
		"txn":     txn.txnID,
		"writes":  len(txn.rwOrder),
		"dropped": len(txn.dropped),
	}).Debug("commit")
	return ResultSuccess
}

// AbortTransaction discards every version written by txn and releases
// ownership; the tuples it changed are left as they were when it began.
func (tm *TransactionManager) AbortTransaction(txn *TransactionContext) ResultType {
	if txn.state != TxnActive {
		panic(fmt.Sprintf("concurrency: abort of %s", txn))
	}
	if txn.readOnly {
		txn.state = TxnAborted
		tm.removeTransaction(txn)
		return ResultAborted
	}

	for idx := len(txn.rwOrder) - 1; idx >= 0; idx -= 1 {
		location := txn.rwOrder[idx]
		tgh := tm.tileGroupHeader(location)
		slot := location.Offset

		switch txn.rwSet[location] {
		case RWRead:
		case RWReadOwn:
			tgh.SetTransactionId(slot, storage.InitialTxnID)
		case RWUpdate, RWDelete:
			newLocation := tgh.GetPrevItemPointer(slot)
			newTGH := tm.tileGroupHeader(newLocation)
			newSlot := newLocation.Offset
			newTGH.SetBeginCommitId(newSlot, storage.MaxCID)
			newTGH.SetEndCommitId(newSlot, storage.MaxCID)

			newerLocation := newTGH.GetPrevItemPointer(newSlot)
			if newerLocation.IsNull() {
				if cell := tgh.GetIndirection(slot); cell != nil {
					cell.Store(location.Pack())
				}
			} else {
				tm.tileGroupHeader(newerLocation).SetNextItemPointer(newerLocation.Offset,
					location)
			}
			tgh.SetPrevItemPointer(slot, newerLocation)

			newTGH.SetTransactionId(newSlot, storage.InvalidTxnID)
			tgh.SetTransactionId(slot, storage.InitialTxnID)
		case RWInsert, RWInsDel:
			tgh.SetBeginCommitId(slot, storage.MaxCID)
			tgh.SetEndCommitId(slot, storage.MaxCID)
			tgh.SetTransactionId(slot, storage.InvalidTxnID)
		}
	}

	for idx := len(txn.created) - 1; idx >= 0; idx -= 1 {
		tm.dropObject(txn.created[idx])
	}

	txn.state = TxnAborted
	txn.result = ResultAborted
	tm.removeTransaction(txn)

	for _, fn := range txn.onAbort {
		fn()
	}

	log.WithFields(log.Fields{
		"txn":     txn.txnID,
		"writes":  len(txn.rwOrder),
		"created": len(txn.created),
	}).Debug("abort")
	return ResultAborted
}

// dropObject removes a storage object: an index if the record names one, else
// a table, else a database.
func (tm *TransactionManager) dropObject(or ObjectRecord) {
	var err error
	if or.IndexOid != storage.InvalidOid {
		var dt *storage.DataTable
		dt, err = tm.st.GetTableWithOid(or.DatabaseOid, or.TableOid)
		if err == nil {
			_, err = dt.DropIndexWithOid(or.IndexOid)
		}
	} else if or.TableOid != storage.InvalidOid {
		var db *storage.Database
		db, err = tm.st.GetDatabaseWithOid(or.DatabaseOid)
		if err == nil {
			var dt *storage.DataTable
			dt, err = db.DropTableWithOid(or.TableOid)
			if err == nil {
				for _, tg := range dt.TileGroups() {
					tm.st.DropTileGroup(tg.ID())
				}
			}
		}
	} else {
		_, err = tm.st.DropDatabaseWithOid(or.DatabaseOid)
	}
	if err != nil {
		log.WithField("object", or).Warnf("drop object: %s", err)
	}
}
