package concurrency

import (
	"fmt"

	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

type versionChecker struct {
	tm  *TransactionManager
	txn *TransactionContext
}

// VersionChecker returns the visibility rules of txn in the form storage needs
// to check unique and foreign keys.
func (tm *TransactionManager) VersionChecker(txn *TransactionContext) storage.VersionChecker {
	return versionChecker{tm: tm, txn: txn}
}

func (vc versionChecker) IsOccupied(location storage.ItemPointer) bool {
	tg := vc.tm.st.GetTileGroup(location.Block)
	if tg == nil {
		return false
	}
	return vc.tm.IsOccupied(vc.txn, tg.Header(), location.Offset)
}

func (vc versionChecker) ClaimSlot(location storage.ItemPointer) {
	vc.tm.PerformInsert(vc.txn, location, nil)
}

func (vc versionChecker) IsVisible(location storage.ItemPointer) bool {
	_, ok := vc.tm.visibleVersion(vc.txn, location)
	return ok
}

// visibleVersion walks the version chain starting at head, newest to oldest,
// and returns the version visible to txn.
func (tm *TransactionManager) visibleVersion(txn *TransactionContext,
	head storage.ItemPointer) (storage.ItemPointer, bool) {

	location := head
	for !location.IsNull() {
		tg := tm.st.GetTileGroup(location.Block)
		if tg == nil {
			return storage.InvalidItemPointer, false
		}
		tgh := tg.Header()
		switch tm.IsVisible(txn, tgh, location.Offset) {
		case VisibleOK:
			return location, true
		case Deleted:
			return storage.InvalidItemPointer, false
		}
		location = tgh.GetNextItemPointer(location.Offset)
	}
	return storage.InvalidItemPointer, false
}

func (tm *TransactionManager) checkWritable(txn *TransactionContext) error {
	if txn.state != TxnActive {
		return fmt.Errorf("concurrency: %s: %w", txn, ErrNotActive)
	}
	if txn.readOnly {
		return fmt.Errorf("concurrency: %s: %w", txn, ErrReadOnly)
	}
	if txn.result != ResultSuccess {
		return fmt.Errorf("concurrency: %s: %w", txn, ErrConflict)
	}
	return nil
}

// fail records the failure of an operation on txn; the caller must abort it.
func (tm *TransactionManager) fail(txn *TransactionContext, err error) error {
	tm.SetTransactionResult(txn, ResultFailure)
	return err
}

func conflict(dt *storage.DataTable, location storage.ItemPointer) error {
	return fmt.Errorf("concurrency: table %s: %w at %s", dt.Name(), ErrConflict, location)
}

// InsertTuple inserts t into dt as a version owned by txn. Constraint, unique
// key and foreign key failures set the result of txn to failure.
func (tm *TransactionManager) InsertTuple(txn *TransactionContext, dt *storage.DataTable,
	t *sql.Tuple) (storage.ItemPointer, error) {

	return tm.insertTuple(txn, dt, t, true)
}

func (tm *TransactionManager) insertTuple(txn *TransactionContext, dt *storage.DataTable,
	t *sql.Tuple, fire bool) (storage.ItemPointer, error) {

	err := tm.checkWritable(txn)
	if err != nil {
		return storage.InvalidItemPointer, err
	}
	tm.objectLocks.SharedLock(txn, dt.Oid())

	triggers := dt.Triggers()
	if fire {
		t, err = triggers.ExecTriggers(storage.RowTrigger|storage.BeforeTrigger|
			storage.InsertTrigger, txn.txnID, nil, t)
		if err != nil {
			return storage.InvalidItemPointer, tm.fail(txn, err)
		}
	}

	location, cell, err := dt.InsertTuple(t, tm.VersionChecker(txn), true)
	if err != nil {
		return storage.InvalidItemPointer, tm.fail(txn, err)
	}
	tm.setIndirection(location, cell)

	if fire {
		_, err = triggers.ExecTriggers(storage.RowTrigger|storage.InsertTrigger, txn.txnID, nil,
			t)
		if err != nil {
			return storage.InvalidItemPointer, tm.fail(txn, err)
		}
		if triggers.Count() > 0 {
			txn.AddOnCommitTrigger(triggers, storage.RowTrigger|storage.InsertTrigger, nil, t)
		}
	}
	return location, nil
}

// RecoverTuple inserts t during recovery: foreign keys are not checked, since
// the referenced tables may not be loaded yet, and no triggers fire.
func (tm *TransactionManager) RecoverTuple(txn *TransactionContext, dt *storage.DataTable,
	t *sql.Tuple) (storage.ItemPointer, error) {

	err := tm.checkWritable(txn)
	if err != nil {
		return storage.InvalidItemPointer, err
	}
	location, cell, err := dt.InsertTuple(t, tm.VersionChecker(txn), false)
	if err != nil {
		return storage.InvalidItemPointer, tm.fail(txn, err)
	}
	tm.setIndirection(location, cell)
	return location, nil
}

// RecoverTupleAt copies t into the next slot of tg, a tile group of dt being
// rebuilt, and inserts it like RecoverTuple.
func (tm *TransactionManager) RecoverTupleAt(txn *TransactionContext, dt *storage.DataTable,
	tg *storage.TileGroup, t *sql.Tuple) (storage.ItemPointer, error) {

	err := tm.checkWritable(txn)
	if err != nil {
		return storage.InvalidItemPointer, err
	}
	slot := tg.InsertTuple(t)
	if slot == storage.InvalidOid {
		return storage.InvalidItemPointer,
			tm.fail(txn, fmt.Errorf("concurrency: table %s: tile group %d is full", dt.Name(),
				tg.ID()))
	}
	location := storage.ItemPointer{Block: tg.ID(), Offset: slot}
	cell, err := dt.InsertTupleAt(t, location, tm.VersionChecker(txn), false)
	if err != nil {
		return storage.InvalidItemPointer, tm.fail(txn, err)
	}
	tm.setIndirection(location, cell)
	return location, nil
}

func changedColumns(oldTuple, newTuple *sql.Tuple) []int {
	var cols []int
	for idx, v := range oldTuple.Values() {
		if sql.Compare(v, newTuple.GetValue(idx)) != 0 {
			cols = append(cols, idx)
		}
	}
	return cols
}

func primaryKeyChanged(dt *storage.DataTable, updated []int) bool {
	for _, pk := range dt.Schema().PrimaryKey() {
		for _, col := range updated {
			if pk == col {
				return true
			}
		}
	}
	return false
}

// UpdateTuple replaces the version at location, which must be visible to txn,
// with newTuple and returns the location of the new version. A version written
// by txn itself is updated in place. A change to the primary key is a delete
// followed by an insert.
func (tm *TransactionManager) UpdateTuple(txn *TransactionContext, dt *storage.DataTable,
	location storage.ItemPointer, newTuple *sql.Tuple) (storage.ItemPointer, error) {

	return tm.updateTuple(txn, dt, location, newTuple, true)
}

func (tm *TransactionManager) updateTuple(txn *TransactionContext, dt *storage.DataTable,
	location storage.ItemPointer, newTuple *sql.Tuple,
	checkFK bool) (storage.ItemPointer, error) {

	err := tm.checkWritable(txn)
	if err != nil {
		return storage.InvalidItemPointer, err
	}
	tm.objectLocks.SharedLock(txn, dt.Oid())

	tg := dt.GetTileGroupForLocation(location)
	if tg == nil {
		return storage.InvalidItemPointer, tm.fail(txn,
			fmt.Errorf("concurrency: table %s: %w at %s", dt.Name(), ErrNotFound, location))
	}
	oldTuple := tg.CopyTuple(location.Offset)

	triggers := dt.Triggers()
	newTuple, err = triggers.ExecTriggers(storage.RowTrigger|storage.BeforeTrigger|
		storage.UpdateTrigger, txn.txnID, oldTuple, newTuple)
	if err != nil {
		return storage.InvalidItemPointer, tm.fail(txn, err)
	}

	updated := changedColumns(oldTuple, newTuple)
	var newLocation storage.ItemPointer
	if primaryKeyChanged(dt, updated) {
		err = tm.CheckForeignKeySrcAndCascade(txn, dt, oldTuple, newTuple)
		if err != nil {
			return storage.InvalidItemPointer, tm.fail(txn, err)
		}
		err = tm.deleteVersion(txn, dt, location, oldTuple, false)
		if err != nil {
			return storage.InvalidItemPointer, err
		}
		newLocation, err = tm.insertTuple(txn, dt, newTuple, false)
		if err != nil {
			return storage.InvalidItemPointer, err
		}
	} else {
		newLocation, err = tm.updateVersion(txn, dt, location, oldTuple, newTuple, updated,
			checkFK)
		if err != nil {
			return storage.InvalidItemPointer, err
		}
	}

	_, err = triggers.ExecTriggers(storage.RowTrigger|storage.UpdateTrigger, txn.txnID,
		oldTuple, newTuple)
	if err != nil {
		return storage.InvalidItemPointer, tm.fail(txn, err)
	}
	if triggers.Count() > 0 {
		txn.AddOnCommitTrigger(triggers, storage.RowTrigger|storage.UpdateTrigger, oldTuple,
			newTuple)
	}
	return newLocation, nil
}

func (tm *TransactionManager) updateVersion(txn *TransactionContext, dt *storage.DataTable,
	location storage.ItemPointer, oldTuple, newTuple *sql.Tuple, updated []int,
	checkFK bool) (storage.ItemPointer, error) {

	tg := dt.GetTileGroupForLocation(location)
	tgh := tg.Header()
	slot := location.Offset
	vc := tm.VersionChecker(txn)

	acquired := false
	if tm.IsOwner(txn, tgh, slot) {
		if tm.IsWritten(txn, tgh, slot) {
			err := tm.CheckForeignKeySrcAndCascade(txn, dt, oldTuple, newTuple)
			if err != nil {
				return storage.InvalidItemPointer, tm.fail(txn, err)
			}
			err = dt.InstallVersion(newTuple, updated, tgh.GetIndirection(slot), vc, checkFK)
			if err != nil {
				return storage.InvalidItemPointer, tm.fail(txn, err)
			}
			tg.CopyIn(slot, newTuple)
			tm.PerformUpdateInPlace(txn, location)
			return location, nil
		}
		if !tgh.GetPrevItemPointer(slot).IsNull() || tgh.GetEndCommitId(slot) != storage.MaxCID {
			return storage.InvalidItemPointer, tm.fail(txn, conflict(dt, location))
		}
	} else if !tm.IsOwnable(txn, tgh, slot) || !tm.AcquireOwnership(txn, tgh, slot) {
		return storage.InvalidItemPointer, tm.fail(txn, conflict(dt, location))
	} else {
		acquired = true
	}

	err := tm.CheckForeignKeySrcAndCascade(txn, dt, oldTuple, newTuple)
	if err == nil {
		cell := tgh.GetIndirection(slot)
		err = dt.InstallVersion(newTuple, updated, cell, vc, checkFK)
	}
	if err != nil {
		if acquired {
			tm.YieldOwnership(txn, tgh, slot)
		}
		return storage.InvalidItemPointer, tm.fail(txn, err)
	}

	newLocation := dt.AcquireVersion()
	dt.GetTileGroupForLocation(newLocation).CopyIn(newLocation.Offset, newTuple)
	tm.PerformUpdate(txn, location, newLocation)
	return newLocation, nil
}

// DeleteTuple deletes the version at location, which must be visible to txn.
// The version stays in storage; it stops being visible to transactions that
// begin after txn commits. Deleting a tuple that is already deleted fails.
func (tm *TransactionManager) DeleteTuple(txn *TransactionContext, dt *storage.DataTable,
	location storage.ItemPointer) error {

	err := tm.checkWritable(txn)
	if err != nil {
		return err
	}
	tm.objectLocks.SharedLock(txn, dt.Oid())

	tg := dt.GetTileGroupForLocation(location)
	if tg == nil {
		return tm.fail(txn,
			fmt.Errorf("concurrency: table %s: %w at %s", dt.Name(), ErrNotFound, location))
	}
	oldTuple := tg.CopyTuple(location.Offset)

	triggers := dt.Triggers()
	_, err = triggers.ExecTriggers(storage.RowTrigger|storage.BeforeTrigger|
		storage.DeleteTrigger, txn.txnID, oldTuple, nil)
	if err != nil {
		return tm.fail(txn, err)
	}

	err = tm.deleteVersion(txn, dt, location, oldTuple, true)
	if err != nil {
		return err
	}

	_, err = triggers.ExecTriggers(storage.RowTrigger|storage.DeleteTrigger, txn.txnID,
		oldTuple, nil)
	if err != nil {
		return tm.fail(txn, err)
	}
	if triggers.Count() > 0 {
		txn.AddOnCommitTrigger(triggers, storage.RowTrigger|storage.DeleteTrigger, oldTuple, nil)
	}
	return nil
}

func (tm *TransactionManager) deleteVersion(txn *TransactionContext, dt *storage.DataTable,
	location storage.ItemPointer, oldTuple *sql.Tuple, cascade bool) error {

	tg := dt.GetTileGroupForLocation(location)
	tgh := tg.Header()
	slot := location.Offset

	acquired := false
	if tm.IsOwner(txn, tgh, slot) {
		if tgh.GetEndCommitId(slot) == storage.InvalidCID {
			return tm.fail(txn, conflict(dt, location))
		}
		if tm.IsWritten(txn, tgh, slot) {
			if cascade {
				err := tm.CheckForeignKeySrcAndCascade(txn, dt, oldTuple, nil)
				if err != nil {
					return tm.fail(txn, err)
				}
			}
			tm.PerformDeleteInPlace(txn, location)
			return nil
		}
		if !tgh.GetPrevItemPointer(slot).IsNull() {
			return tm.fail(txn, conflict(dt, location))
		}
	} else if !tm.IsOwnable(txn, tgh, slot) || !tm.AcquireOwnership(txn, tgh, slot) {
		return tm.fail(txn, conflict(dt, location))
	} else {
		acquired = true
	}

	if cascade {
		err := tm.CheckForeignKeySrcAndCascade(txn, dt, oldTuple, nil)
		if err != nil {
			if acquired {
				tm.YieldOwnership(txn, tgh, slot)
			}
			return tm.fail(txn, err)
		}
	}

	newLocation := dt.AcquireVersion()
	dt.GetTileGroupForLocation(newLocation).CopyIn(newLocation.Offset, oldTuple)
	tm.PerformDelete(txn, location, newLocation)
	return nil
}

// ScanTable calls fn with every tuple of dt visible to txn. Each tuple is read
// under the timestamp ordering rules; a conflicting read fails txn.
func (tm *TransactionManager) ScanTable(txn *TransactionContext, dt *storage.DataTable,
	fn func(location storage.ItemPointer, t *sql.Tuple) error) error {

	if txn.state != TxnActive {
		return fmt.Errorf("concurrency: %s: %w", txn, ErrNotActive)
	}
	if !txn.readOnly {
		tm.objectLocks.SharedLock(txn, dt.Oid())
	}

	for _, tg := range dt.TileGroups() {
		tgh := tg.Header()
		cnt := tg.NextTupleSlot()
		for slot := storage.Oid(0); slot < cnt; slot++ {
			if tm.IsVisible(txn, tgh, slot) != VisibleOK {
				continue
			}
			location := storage.ItemPointer{Block: tg.ID(), Offset: slot}
			if !tm.PerformRead(txn, location, false) {
				return tm.fail(txn, conflict(dt, location))
			}
			err := fn(location, tg.CopyTuple(slot))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ScanIndex calls fn with every tuple visible to txn whose key in idx is key.
func (tm *TransactionManager) ScanIndex(txn *TransactionContext, dt *storage.DataTable,
	idx storage.Index, key []sql.Value,
	fn func(location storage.ItemPointer, t *sql.Tuple) error) error {

	if txn.state != TxnActive {
		return fmt.Errorf("concurrency: %s: %w", txn, ErrNotActive)
	}
	if !txn.readOnly {
		tm.objectLocks.SharedLock(txn, dt.Oid())
	}

	attrs := idx.Metadata().KeyAttrs
	for _, cell := range idx.ScanKey(key) {
		location, ok := tm.visibleVersion(txn, storage.UnpackItemPointer(cell.Load()))
		if !ok {
			continue
		}
		tg := dt.GetTileGroupForLocation(location)
		if tg == nil {
			continue
		}
		t := tg.CopyTuple(location.Offset)
		// Entries for old keys stay in the index after an update.
		if sql.CompareValues(t.Project(attrs), key) != 0 {
			continue
		}
		if !tm.PerformRead(txn, location, false) {
			return tm.fail(txn, conflict(dt, location))
		}
		err := fn(location, t)
		if err != nil {
			return err
		}
	}
	return nil
}

// LookupTuple finds the tuple of dt visible to txn with primary key key.
func (tm *TransactionManager) LookupTuple(txn *TransactionContext, dt *storage.DataTable,
	key []sql.Value) (storage.ItemPointer, *sql.Tuple, error) {

	idx, ok := dt.PrimaryIndex()
	if !ok {
		return storage.InvalidItemPointer, nil,
			fmt.Errorf("concurrency: table %s: no primary key", dt.Name())
	}

	location := storage.InvalidItemPointer
	var found *sql.Tuple
	err := tm.ScanIndex(txn, dt, idx, key,
		func(loc storage.ItemPointer, t *sql.Tuple) error {
			location = loc
			found = t
			return nil
		})
	if err != nil {
		return storage.InvalidItemPointer, nil, err
	}
	if found == nil {
		return storage.InvalidItemPointer, nil,
			fmt.Errorf("concurrency: table %s: %w: %v", dt.Name(), ErrNotFound, key)
	}
	return location, found, nil
}
