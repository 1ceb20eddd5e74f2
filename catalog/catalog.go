package catalog

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

// Invalidator is told about tables whose definition changed, once the change
// has committed.
type Invalidator interface {
	InvalidateTableOid(oid storage.Oid)
}

type Options struct {
	TuplesPerTileGroup int
	DefaultLayout      storage.LayoutType
	Invalidator        Invalidator
}

// Catalog holds the definitions of every database object in catalog tables
// stored like any other table. There is one Catalog per storage manager; it is
// passed explicitly to everything which needs it.
type Catalog struct {
	st       *storage.Manager
	tm       *concurrency.TransactionManager
	settings []*SettingEntry
	opts     Options
	oids     [numCatalogTypes]atomic.Uint32

	mutex        sync.RWMutex
	triggerFuncs map[string]storage.TriggerFunc
	invalidator  Invalidator
}

func New(st *storage.Manager, tm *concurrency.TransactionManager, settings []*SettingEntry,
	opts Options) *Catalog {

	if opts.TuplesPerTileGroup <= 0 {
		opts.TuplesPerTileGroup = 1000
	}
	if opts.DefaultLayout == 0 {
		opts.DefaultLayout = storage.RowLayout
	}
	c := &Catalog{
		st:           st,
		tm:           tm,
		settings:     settings,
		opts:         opts,
		triggerFuncs: map[string]storage.TriggerFunc{},
		invalidator:  opts.Invalidator,
	}
	c.resetOids()
	return c
}

func (c *Catalog) Storage() *storage.Manager {
	return c.st
}

func (c *Catalog) TransactionManager() *concurrency.TransactionManager {
	return c.tm
}

func (c *Catalog) SetInvalidator(inv Invalidator) {
	c.mutex.Lock()
	c.invalidator = inv
	c.mutex.Unlock()
}

// RegisterTriggerFunc makes fn available to triggers by name, including
// triggers rebuilt from the catalog during recovery.
func (c *Catalog) RegisterTriggerFunc(name string, fn storage.TriggerFunc) {
	c.mutex.Lock()
	c.triggerFuncs[name] = fn
	c.mutex.Unlock()
}

func (c *Catalog) triggerFunc(name string) (storage.TriggerFunc, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	fn, ok := c.triggerFuncs[name]
	return fn, ok
}

// invalidateOnCommit tells the invalidator about oids once txn commits.
func (c *Catalog) invalidateOnCommit(txn *concurrency.TransactionContext,
	oids ...storage.Oid) {

	txn.OnCommit(func() {
		c.mutex.RLock()
		inv := c.invalidator
		c.mutex.RUnlock()

		if inv == nil {
			return
		}
		for _, oid := range oids {
			inv.InvalidateTableOid(oid)
		}
	})
}

// lockObject takes the exclusive lock on oid for txn; DML holds shared locks
// on the tables it touches until it ends.
func (c *Catalog) lockObject(txn *concurrency.TransactionContext, oid storage.Oid) error {
	if !c.tm.ObjectLocks().ExclusiveLock(txn, oid) {
		c.tm.SetTransactionResult(txn, concurrency.ResultFailure)
		return errorf(Constraint, "object %d is in use", oid)
	}
	return nil
}

func oidValue(oid storage.Oid) sql.Value {
	return sql.IntegerValue(int32(oid))
}

func oidKey(oids ...storage.Oid) []sql.Value {
	key := make([]sql.Value, len(oids))
	for idx, oid := range oids {
		key[idx] = oidValue(oid)
	}
	return key
}

// CatalogTable returns the catalog table oid of the database dbOid; the
// tables held only by the catalog database are found there whatever dbOid is.
func (c *Catalog) CatalogTable(dbOid, oid storage.Oid) (*storage.DataTable, error) {
	td, ok := tableDefs[oid]
	if !ok {
		return nil, errorf(NotFound, "catalog table %d not found", oid)
	}
	return c.catalogTable(dbOid, td)
}

func (c *Catalog) catalogTable(dbOid storage.Oid, td *tableDef) (*storage.DataTable, error) {
	if td.catalogDBOnly {
		dbOid = CatalogDatabaseOid
	}
	dt, err := c.st.GetTableWithOid(dbOid, td.oid)
	if err != nil {
		return nil, errorf(NotFound, "database %d: catalog table %s not found", dbOid, td.name)
	}
	return dt, nil
}

func (c *Catalog) insertRow(txn *concurrency.TransactionContext, dbOid storage.Oid,
	td *tableDef, rowObj interface{}) error {

	dt, err := c.catalogTable(dbOid, td)
	if err != nil {
		return err
	}
	t, err := td.codec.encode(rowObj)
	if err != nil {
		return errorf(Internal, "%s: %s", td.name, err)
	}
	_, err = c.tm.InsertTuple(txn, dt, t)
	return catalogError(err)
}

func (c *Catalog) updateRow(txn *concurrency.TransactionContext, dbOid storage.Oid,
	td *tableDef, location storage.ItemPointer, rowObj interface{}) error {

	dt, err := c.catalogTable(dbOid, td)
	if err != nil {
		return err
	}
	t, err := td.codec.encode(rowObj)
	if err != nil {
		return errorf(Internal, "%s: %s", td.name, err)
	}
	_, err = c.tm.UpdateTuple(txn, dt, location, t)
	return catalogError(err)
}

// scanRows calls fn with the rows of td visible to txn whose key in the index
// numbered idx is key; idx < 0 scans every row.
func (c *Catalog) scanRows(txn *concurrency.TransactionContext, dbOid storage.Oid,
	td *tableDef, idx int, key []sql.Value,
	fn func(location storage.ItemPointer, t *sql.Tuple) error) error {

	dt, err := c.catalogTable(dbOid, td)
	if err != nil {
		return err
	}
	if idx < 0 {
		return catalogError(c.tm.ScanTable(txn, dt, fn))
	}

	index, ok := dt.GetIndexWithOid(td.indexes[idx].oid)
	if !ok {
		return errorf(Internal, "%s: index %s not found", td.name, td.indexes[idx].name)
	}
	return catalogError(c.tm.ScanIndex(txn, dt, index, key, fn))
}

func scanEntries[E any](c *Catalog, txn *concurrency.TransactionContext, dbOid storage.Oid,
	td *tableDef, idx int, key []sql.Value, fn func(location storage.ItemPointer, e *E) error) error {

	return c.scanRows(txn, dbOid, td, idx, key,
		func(location storage.ItemPointer, t *sql.Tuple) error {
			var e E
			err := td.codec.decode(t, &e)
			if err != nil {
				return errorf(Internal, "%s", err)
			}
			return fn(location, &e)
		})
}

// getEntry returns the single entry of td matching key in the index numbered
// idx, or nil and an invalid location if there is none.
func getEntry[E any](c *Catalog, txn *concurrency.TransactionContext, dbOid storage.Oid,
	td *tableDef, idx int, key []sql.Value) (storage.ItemPointer, *E, error) {

	location := storage.InvalidItemPointer
	var found *E
	err := scanEntries(c, txn, dbOid, td, idx, key,
		func(loc storage.ItemPointer, e *E) error {
			location = loc
			found = e
			return nil
		})
	if err != nil {
		return storage.InvalidItemPointer, nil, err
	}
	return location, found, nil
}

func listEntries[E any](c *Catalog, txn *concurrency.TransactionContext, dbOid storage.Oid,
	td *tableDef, idx int, key []sql.Value) ([]*E, error) {

	entries := []*E{}
	err := scanEntries(c, txn, dbOid, td, idx, key,
		func(_ storage.ItemPointer, e *E) error {
			entries = append(entries, e)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// deleteRows deletes the rows of td matching key in the index numbered idx
// and returns how many were deleted.
func (c *Catalog) deleteRows(txn *concurrency.TransactionContext, dbOid storage.Oid,
	td *tableDef, idx int, key []sql.Value) (int, error) {

	var locations []storage.ItemPointer
	err := c.scanRows(txn, dbOid, td, idx, key,
		func(location storage.ItemPointer, _ *sql.Tuple) error {
			locations = append(locations, location)
			return nil
		})
	if err != nil {
		return 0, err
	}

	dt, err := c.catalogTable(dbOid, td)
	if err != nil {
		return 0, err
	}
	for _, location := range locations {
		err = c.tm.DeleteTuple(txn, dt, location)
		if err != nil {
			return 0, catalogError(err)
		}
	}
	return len(locations), nil
}

// AdvanceOidFor moves the oid counter past the oid held by t, a row of the
// catalog table tableOid, if the table hands out oids.
func (c *Catalog) AdvanceOidFor(tableOid storage.Oid, t *sql.Tuple) {
	td, ok := tableDefs[tableOid]
	if !ok || td.oidColumn < 0 {
		return
	}
	if i, ok := sql.Int64(t.GetValue(td.oidColumn)); ok {
		c.AdvanceOid(storage.Oid(uint32(i)))
	}
}

// PrimaryKey returns the primary key columns of the catalog table tableOid.
func PrimaryKey(tableOid storage.Oid) ([]int, bool) {
	td, ok := tableDefs[tableOid]
	if !ok {
		return nil, false
	}
	return td.primaryKey(), true
}

func logDDL(txn *concurrency.TransactionContext, op string) *log.Entry {
	return log.WithFields(log.Fields{
		"txn": txn.TransactionID(),
		"op":  op,
	})
}
