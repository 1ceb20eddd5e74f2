package concurrency

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

type IsolationLevel int

const (
	Serializable IsolationLevel = iota
	Snapshot
	RepeatableRead
	ReadCommitted
	ReadOnly
)

func (il IsolationLevel) String() string {
	switch il {
	case Serializable:
		return "SERIALIZABLE"
	case Snapshot:
		return "SNAPSHOT"
	case RepeatableRead:
		return "REPEATABLE_READ"
	case ReadCommitted:
		return "READ_COMMITTED"
	case ReadOnly:
		return "READ_ONLY"
	}
	return fmt.Sprintf("IsolationLevel(%d)", int(il))
}

func ParseIsolationLevel(s string) (IsolationLevel, error) {
	for il := Serializable; il <= ReadOnly; il++ {
		if il.String() == s {
			return il, nil
		}
	}
	return 0, fmt.Errorf("concurrency: unknown isolation level: %s", s)
}

// ResultType is the outcome of a transaction or of the last operation
// performed by it. Conflicts are reported here rather than as errors.
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultAborted
	ResultNoop
	ResultUnknown
)

func (rt ResultType) String() string {
	switch rt {
	case ResultSuccess:
		return "SUCCESS"
	case ResultFailure:
		return "FAILURE"
	case ResultAborted:
		return "ABORTED"
	case ResultNoop:
		return "NOOP"
	case ResultUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("ResultType(%d)", int(rt))
}

type TxnState int

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (ts TxnState) String() string {
	switch ts {
	case TxnActive:
		return "ACTIVE"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	}
	return fmt.Sprintf("TxnState(%d)", int(ts))
}

// RWType records what a transaction did to a version it touched.
type RWType int

const (
	RWRead RWType = iota
	RWReadOwn
	RWUpdate
	RWDelete
	RWInsert
	RWInsDel
)

func (rw RWType) String() string {
	switch rw {
	case RWRead:
		return "READ"
	case RWReadOwn:
		return "READ_OWN"
	case RWUpdate:
		return "UPDATE"
	case RWDelete:
		return "DELETE"
	case RWInsert:
		return "INSERT"
	case RWInsDel:
		return "INS_DEL"
	}
	return fmt.Sprintf("RWType(%d)", int(rw))
}

// ObjectRecord is a storage object created or dropped by a transaction. A
// created object is removed again if the transaction aborts; a dropped object
// is removed from storage only when the transaction commits.
type ObjectRecord struct {
	DatabaseOid storage.Oid
	TableOid    storage.Oid
	IndexOid    storage.Oid
}

func (or ObjectRecord) String() string {
	return fmt.Sprintf("database=%d table=%d index=%d", or.DatabaseOid, or.TableOid,
		or.IndexOid)
}

type TransactionContext struct {
	txnID     storage.TxnID
	cid       storage.CID
	epochID   storage.EpochID
	isolation IsolationLevel
	readOnly  bool
	result    ResultType
	state     TxnState

	rwSet   map[storage.ItemPointer]RWType
	rwOrder []storage.ItemPointer

	created []ObjectRecord
	dropped []ObjectRecord

	onCommit []func()
	onAbort  []func()
	locker   locker
	values   map[interface{}]interface{}

	insertCount int
}

func newTransaction(cid storage.CID, isolation IsolationLevel,
	readOnly bool) *TransactionContext {

	return &TransactionContext{
		txnID:     storage.TxnID(cid),
		cid:       cid,
		epochID:   EpochOf(cid),
		isolation: isolation,
		readOnly:  readOnly,
		result:    ResultSuccess,
		state:     TxnActive,
		rwSet:     map[storage.ItemPointer]RWType{},
	}
}

func (txn *TransactionContext) TransactionID() storage.TxnID {
	return txn.txnID
}

// ReadID is the snapshot of the transaction; under timestamp ordering it is
// also its commit id.
func (txn *TransactionContext) ReadID() storage.CID {
	return txn.cid
}

func (txn *TransactionContext) CommitID() storage.CID {
	return txn.cid
}

func (txn *TransactionContext) EpochID() storage.EpochID {
	return txn.epochID
}

func (txn *TransactionContext) Isolation() IsolationLevel {
	return txn.isolation
}

func (txn *TransactionContext) IsReadOnly() bool {
	return txn.readOnly
}

func (txn *TransactionContext) Result() ResultType {
	return txn.result
}

func (txn *TransactionContext) State() TxnState {
	return txn.state
}

func (txn *TransactionContext) InsertCount() int {
	return txn.insertCount
}

func (txn *TransactionContext) String() string {
	return fmt.Sprintf("transaction-%d (%s, %s)", txn.txnID, txn.state, txn.result)
}

// RWType returns how the transaction touched location, if it did.
func (txn *TransactionContext) RWType(location storage.ItemPointer) (RWType, bool) {
	rw, ok := txn.rwSet[location]
	return rw, ok
}

// RWSet returns the touched locations in the order they were first touched.
func (txn *TransactionContext) RWSet() []storage.ItemPointer {
	return txn.rwOrder
}

func (txn *TransactionContext) setRW(location storage.ItemPointer, rw RWType) {
	if _, ok := txn.rwSet[location]; !ok {
		txn.rwOrder = append(txn.rwOrder, location)
	}
	txn.rwSet[location] = rw
}

func (txn *TransactionContext) RecordRead(location storage.ItemPointer) {
	if _, ok := txn.rwSet[location]; ok {
		return
	}
	txn.setRW(location, RWRead)
}

func (txn *TransactionContext) RecordReadOwn(location storage.ItemPointer) {
	rw, ok := txn.rwSet[location]
	if ok {
		switch rw {
		case RWRead:
		case RWReadOwn, RWUpdate, RWInsert:
			return
		default:
			panic(fmt.Sprintf("concurrency: read own after %s at %s", rw, location))
		}
	}
	txn.setRW(location, RWReadOwn)
}

func (txn *TransactionContext) RecordUpdate(location storage.ItemPointer) {
	rw, ok := txn.rwSet[location]
	if ok {
		switch rw {
		case RWRead, RWReadOwn:
		case RWUpdate, RWInsert:
			return
		default:
			panic(fmt.Sprintf("concurrency: update after %s at %s", rw, location))
		}
	}
	txn.setRW(location, RWUpdate)
}

func (txn *TransactionContext) RecordInsert(location storage.ItemPointer) {
	if rw, ok := txn.rwSet[location]; ok {
		panic(fmt.Sprintf("concurrency: insert after %s at %s", rw, location))
	}
	txn.setRW(location, RWInsert)
	txn.insertCount += 1
}

// RecordDelete returns true if the deleted location was inserted by the
// transaction itself.
func (txn *TransactionContext) RecordDelete(location storage.ItemPointer) bool {
	rw, ok := txn.rwSet[location]
	if ok {
		switch rw {
		case RWRead, RWReadOwn, RWUpdate:
		case RWInsert:
			txn.rwSet[location] = RWInsDel
			txn.insertCount -= 1
			return true
		default:
			panic(fmt.Sprintf("concurrency: delete after %s at %s", rw, location))
		}
	}
	txn.setRW(location, RWDelete)
	return false
}

func (txn *TransactionContext) RecordCreate(dbOid, tableOid, indexOid storage.Oid) {
	txn.created = append(txn.created, ObjectRecord{dbOid, tableOid, indexOid})
}

func (txn *TransactionContext) RecordDrop(dbOid, tableOid, indexOid storage.Oid) {
	txn.dropped = append(txn.dropped, ObjectRecord{dbOid, tableOid, indexOid})
}

func (txn *TransactionContext) CreatedObjects() []ObjectRecord {
	return txn.created
}

func (txn *TransactionContext) DroppedObjects() []ObjectRecord {
	return txn.dropped
}

// OnCommit registers fn to run after the transaction commits.
func (txn *TransactionContext) OnCommit(fn func()) {
	txn.onCommit = append(txn.onCommit, fn)
}

// OnAbort registers fn to run after the transaction aborts.
func (txn *TransactionContext) OnAbort(fn func()) {
	txn.onAbort = append(txn.onAbort, fn)
}

// AddOnCommitTrigger queues the ON COMMIT row triggers of a table for an event
// of this transaction. Errors from commit triggers can no longer abort the
// transaction; they are logged.
func (txn *TransactionContext) AddOnCommitTrigger(tl *storage.TriggerList,
	ev storage.TriggerType, oldTuple, newTuple *sql.Tuple) {

	txn.OnCommit(func() {
		_, err := tl.ExecTriggers(ev|storage.CommitTrigger, txn.txnID, oldTuple, newTuple)
		if err != nil {
			log.WithField("txn", txn.txnID).Errorf("on commit trigger: %s", err)
		}
	})
}

// Value returns a value stored on the transaction by a layer above it, such as
// the catalog's cache of entries.
func (txn *TransactionContext) Value(key interface{}) interface{} {
	return txn.values[key]
}

func (txn *TransactionContext) SetValue(key, val interface{}) {
	if txn.values == nil {
		txn.values = map[interface{}]interface{}{}
	}
	txn.values[key] = val
}
