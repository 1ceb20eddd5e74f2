package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

func (c *Catalog) CreateDatabase(txn *concurrency.TransactionContext,
	name string) (*DatabaseEntry, error) {

	_, err := c.GetDatabaseObject(txn, name)
	if err == nil {
		return nil, errorf(AlreadyExists, "database %s already exists", name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	de := &DatabaseEntry{
		Oid:  c.GetNextOid(DatabaseCatalogType),
		Name: name,
	}
	err = c.BootstrapDatabase(txn, de.Oid, name)
	if err != nil {
		return nil, err
	}
	err = c.insertRow(txn, CatalogDatabaseOid, databaseCatalog, de)
	if err != nil {
		return nil, err
	}

	c.txnCache(txn).addDatabase(de)
	logDDL(txn, "create database").WithField("database", name).Debug("catalog: ddl")
	return de, nil
}

func (c *Catalog) DropDatabase(txn *concurrency.TransactionContext, name string) error {
	de, err := c.GetDatabaseObject(txn, name)
	if err != nil {
		return err
	}
	if de.Oid == CatalogDatabaseOid {
		return errorf(InvalidArgument, "database %s may not be dropped", name)
	}
	err = c.lockObject(txn, de.Oid)
	if err != nil {
		return err
	}

	_, err = c.deleteRows(txn, CatalogDatabaseOid, databaseCatalog, 0, oidKey(de.Oid))
	if err != nil {
		return err
	}
	txn.RecordDrop(de.Oid, storage.InvalidOid, storage.InvalidOid)

	db, err := c.st.GetDatabaseWithOid(de.Oid)
	if err != nil {
		return errorf(Internal, "%s", err)
	}
	var oids []storage.Oid
	for _, dt := range db.Tables() {
		if !dt.IsCatalog() {
			oids = append(oids, dt.Oid())
		}
	}
	c.invalidateOnCommit(txn, oids...)

	c.txnCache(txn).evictDatabase(de)
	logDDL(txn, "drop database").WithField("database", name).Debug("catalog: ddl")
	return nil
}

func (c *Catalog) CreateSchema(txn *concurrency.TransactionContext, dbName,
	schemaName string) (*SchemaEntry, error) {

	de, err := c.GetDatabaseObject(txn, dbName)
	if err != nil {
		return nil, err
	}
	_, err = c.GetSchemaObject(txn, de.Oid, schemaName)
	if err == nil {
		return nil, errorf(AlreadyExists, "schema %s already exists", schemaName)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	se := &SchemaEntry{
		Oid:         c.GetNextOid(SchemaCatalogType),
		Name:        schemaName,
		DatabaseOid: de.Oid,
	}
	err = c.insertRow(txn, de.Oid, schemaCatalog, se)
	if err != nil {
		return nil, err
	}
	logDDL(txn, "create schema").WithFields(log.Fields{
		"database": dbName,
		"schema":   schemaName,
	}).Debug("catalog: ddl")
	return se, nil
}

// DropSchema drops an empty schema.
func (c *Catalog) DropSchema(txn *concurrency.TransactionContext, dbName,
	schemaName string) error {

	de, err := c.GetDatabaseObject(txn, dbName)
	if err != nil {
		return err
	}
	se, err := c.GetSchemaObject(txn, de.Oid, schemaName)
	if err != nil {
		return err
	}
	if se.Oid == CatalogSchemaOid {
		return errorf(InvalidArgument, "schema %s may not be dropped", schemaName)
	}
	err = c.lockObject(txn, se.Oid)
	if err != nil {
		return err
	}

	tables, err := c.GetTableObjects(txn, de.Oid)
	if err != nil {
		return err
	}
	for _, te := range tables {
		if te.SchemaName == schemaName {
			return errorf(Constraint, "schema %s is not empty: %s", schemaName, te.Name)
		}
	}
	seqs, err := listEntries[SequenceEntry](c, txn, de.Oid, sequenceCatalog, -1, nil)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		if seq.NamespaceOid == se.Oid {
			return errorf(Constraint, "schema %s is not empty: sequence %s", schemaName,
				seq.Name)
		}
	}

	_, err = c.deleteRows(txn, de.Oid, schemaCatalog, 0, oidKey(se.Oid))
	if err != nil {
		return err
	}
	logDDL(txn, "drop schema").WithFields(log.Fields{
		"database": dbName,
		"schema":   schemaName,
	}).Debug("catalog: ddl")
	return nil
}

func (c *Catalog) checkNewTable(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string, s *sql.Schema) (*DatabaseEntry, error) {

	de, err := c.GetDatabaseObject(txn, dbName)
	if err != nil {
		return nil, err
	}
	if schemaName == CatalogSchemaName {
		return nil, errorf(InvalidArgument, "tables may not be created in schema %s",
			CatalogSchemaName)
	}
	_, err = c.GetSchemaObject(txn, de.Oid, schemaName)
	if err != nil {
		return nil, err
	}
	_, err = c.getTable(txn, de.Oid, schemaName, tableName)
	if err == nil {
		return nil, errorf(AlreadyExists, "table %s.%s already exists", schemaName, tableName)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if s.ColumnCount() == 0 {
		return nil, errorf(InvalidArgument, "table %s must have at least one column", tableName)
	}
	names := map[string]struct{}{}
	for _, col := range s.Columns() {
		n := strings.ToLower(col.Name)
		if _, ok := names[n]; ok {
			return nil, errorf(InvalidArgument, "table %s: duplicate column %s", tableName,
				col.Name)
		}
		names[n] = struct{}{}
	}
	return de, nil
}

// CreateTable creates a table with schema s. Indexes are created for the
// primary key and for every unique constraint.
func (c *Catalog) CreateTable(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string, s *sql.Schema) (*TableEntry, error) {

	de, err := c.checkNewTable(txn, dbName, schemaName, tableName, s)
	if err != nil {
		return nil, err
	}
	db, err := c.st.GetDatabaseWithOid(de.Oid)
	if err != nil {
		return nil, errorf(Internal, "%s", err)
	}

	oid := c.GetNextOid(TableCatalogType)
	dt := storage.NewDataTable(c.st, de.Oid, oid, tableName, s, c.opts.TuplesPerTileGroup,
		c.opts.DefaultLayout, false)
	err = db.AddTable(dt)
	if err != nil {
		dt.DropTileGroups()
		return nil, errorf(Internal, "%s", err)
	}
	txn.RecordCreate(de.Oid, oid, storage.InvalidOid)

	te := &TableEntry{
		Oid:              oid,
		Name:             tableName,
		SchemaName:       schemaName,
		DatabaseOid:      de.Oid,
		DefaultLayoutOid: dt.DefaultLayout().Oid(),
	}
	err = c.insertRow(txn, de.Oid, tableCatalog, te)
	if err != nil {
		return nil, err
	}
	err = c.insertColumns(txn, de.Oid, oid, s)
	if err != nil {
		return nil, err
	}
	err = c.insertLayouts(txn, de.Oid, dt)
	if err != nil {
		return nil, err
	}
	err = c.createConstraints(txn, de.Oid, schemaName, dt)
	if err != nil {
		return nil, err
	}

	te = c.bindTable(txn, te)
	logDDL(txn, "create table").WithFields(log.Fields{
		"database": dbName,
		"table":    te.EntryName(),
		"oid":      oid,
	}).Debug("catalog: ddl")
	return te, nil
}

func (c *Catalog) createConstraints(txn *concurrency.TransactionContext, dbOid storage.Oid,
	schemaName string, dt *storage.DataTable) error {

	s := dt.Schema()
	name := dt.Name()

	pk := s.PrimaryKey()
	if len(pk) > 0 {
		err := c.createKeyConstraint(txn, dbOid, schemaName, dt, name+"_pkey",
			sql.PrimaryConstraint, pk)
		if err != nil {
			return err
		}
	}
	for idx, col := range s.Columns() {
		if col.IsUnique() && !(len(pk) == 1 && pk[0] == idx) {
			err := c.createKeyConstraint(txn, dbOid, schemaName, dt,
				fmt.Sprintf("%s_%s_key", name, col.Name), sql.UniqueConstraint, []int{idx})
			if err != nil {
				return err
			}
		}
	}
	for mdx, mc := range s.MultiConstraints() {
		if mc.Type != sql.UniqueConstraint {
			continue
		}
		cn := mc.Name
		if cn == "" {
			cn = fmt.Sprintf("%s_key%d", name, mdx)
		}
		err := c.createKeyConstraint(txn, dbOid, schemaName, dt, cn, sql.UniqueConstraint,
			mc.Columns)
		if err != nil {
			return err
		}
	}

	for idx, col := range s.Columns() {
		for _, con := range col.Constraints {
			if con.Type != sql.CheckConstraint {
				continue
			}
			cv, err := formatValue(con.CheckValue)
			if err != nil {
				return errorf(InvalidArgument, "column %s: check: %s", col.Name, err)
			}
			op := con.CheckOp
			cn := con.Name
			if cn == "" {
				cn = fmt.Sprintf("%s_%s_check", name, col.Name)
			}
			err = c.insertRow(txn, dbOid, constraintCatalog, &ConstraintEntry{
				Oid:            c.GetNextOid(ConstraintCatalogType),
				Name:           cn,
				Type:           sql.CheckConstraint,
				TableOid:       dt.Oid(),
				Columns:        []int{idx},
				IndexOid:       storage.InvalidOid,
				FKSinkTableOid: storage.InvalidOid,
				CheckOp:        &op,
				CheckValue:     &cv,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// createKeyConstraint creates the index backing a primary key or unique
// constraint and the constraint itself.
func (c *Catalog) createKeyConstraint(txn *concurrency.TransactionContext, dbOid storage.Oid,
	schemaName string, dt *storage.DataTable, name string, ct sql.ConstraintType,
	cols []int) error {

	ict := storage.UniqueIndexConstraint
	if ct == sql.PrimaryConstraint {
		ict = storage.PrimaryKeyIndexConstraint
	}
	ie := &IndexEntry{
		Oid:        c.GetNextOid(IndexCatalogType),
		Name:       name,
		TableOid:   dt.Oid(),
		SchemaName: schemaName,
		Type:       storage.BTreeIndexType,
		Constraint: ict,
		UniqueKeys: true,
		KeyAttrs:   cols,
	}
	err := c.addIndex(txn, dbOid, dt, ie)
	if err != nil {
		return err
	}
	return c.insertRow(txn, dbOid, constraintCatalog, &ConstraintEntry{
		Oid:            c.GetNextOid(ConstraintCatalogType),
		Name:           name,
		Type:           ct,
		TableOid:       dt.Oid(),
		Columns:        cols,
		IndexOid:       ie.Oid,
		FKSinkTableOid: storage.InvalidOid,
	})
}

// populateIndex adds the newest version of every tuple of dt to idx.
func populateIndex(dt *storage.DataTable, idx storage.Index) error {
	md := idx.Metadata()
	for _, tg := range dt.TileGroups() {
		tgh := tg.Header()
		cnt := tg.NextTupleSlot()
		for slot := storage.Oid(0); slot < cnt; slot++ {
			cell := tgh.GetIndirection(slot)
			if cell == nil {
				continue
			}
			location := storage.ItemPointer{Block: tg.ID(), Offset: slot}
			if storage.UnpackItemPointer(cell.Load()) != location ||
				tgh.GetTransactionId(slot) == storage.InvalidTxnID {

				continue
			}

			key := tg.CopyTuple(slot).Project(md.KeyAttrs)
			if md.UniqueKeys {
				if !idx.CondInsertEntry(key, cell,
					func(_ *atomic.Uint64) bool { return true }) {

					return errorf(Constraint, "index %s: duplicate key %v", md.Name, key)
				}
			} else {
				idx.InsertEntry(key, cell)
			}
		}
	}
	return nil
}

// addIndex builds the index described by ie over the tuples of dt, adds it
// to dt and inserts ie into pg_index.
func (c *Catalog) addIndex(txn *concurrency.TransactionContext, dbOid storage.Oid,
	dt *storage.DataTable, ie *IndexEntry) error {

	md := storage.NewIndexMetadata(ie.Name, ie.Oid, dt.Oid(), dbOid, ie.Type, ie.Constraint,
		dt.Schema(), ie.KeyAttrs, ie.UniqueKeys)
	idx := storage.NewIndex(md)
	err := populateIndex(dt, idx)
	if err != nil {
		return err
	}
	dt.AddIndex(idx)
	txn.RecordCreate(dbOid, dt.Oid(), ie.Oid)

	return c.insertRow(txn, dbOid, indexCatalog, ie)
}

// DropTable drops a table which no other table references. The storage of the
// table goes away when txn commits.
func (c *Catalog) DropTable(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string) error {

	te, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if err != nil {
		return err
	}
	if te.SchemaName == CatalogSchemaName {
		return errorf(InvalidArgument, "catalog table %s may not be dropped", tableName)
	}
	err = c.lockObject(txn, te.Oid)
	if err != nil {
		return err
	}
	dt, err := c.dataTable(te)
	if err != nil {
		return err
	}
	for _, fk := range dt.ForeignKeySources() {
		if fk.SourceTableOid != te.Oid {
			return errorf(Constraint, "table %s is referenced by foreign key %s", tableName,
				fk.Name)
		}
	}

	dbOid := te.DatabaseOid
	key := oidKey(te.Oid)
	deletes := []struct {
		td  *tableDef
		idx int
	}{
		{tableCatalog, 0},
		{columnCatalog, 1},
		{indexCatalog, 2},
		{layoutCatalog, 1},
		{constraintCatalog, 1},
		{triggerCatalog, 2},
	}
	for _, del := range deletes {
		_, err = c.deleteRows(txn, dbOid, del.td, del.idx, key)
		if err != nil {
			return err
		}
	}
	txn.RecordDrop(dbOid, te.Oid, storage.InvalidOid)

	fks := dt.ForeignKeys()
	txn.OnCommit(func() {
		for _, fk := range fks {
			sink, err := c.st.GetTableWithOid(dbOid, fk.SinkTableOid)
			if err == nil {
				sink.DropForeignKeySource(fk.Oid)
			}
		}
	})
	c.invalidateOnCommit(txn, te.Oid)

	c.txnCache(txn).evictTable(te)
	logDDL(txn, "drop table").WithFields(log.Fields{
		"database": dbName,
		"table":    te.EntryName(),
		"oid":      te.Oid,
	}).Debug("catalog: ddl")
	return nil
}

// CreateIndex creates an index on cols of a table, built from the tuples
// already in the table.
func (c *Catalog) CreateIndex(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName, indexName string, cols []int, it storage.IndexType,
	unique bool) (*IndexEntry, error) {

	te, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	err = c.lockObject(txn, te.Oid)
	if err != nil {
		return nil, err
	}
	dt, err := c.dataTable(te)
	if err != nil {
		return nil, err
	}

	if len(cols) == 0 {
		return nil, errorf(InvalidArgument, "index %s must have at least one column", indexName)
	}
	for _, col := range cols {
		if col < 0 || col >= dt.Schema().ColumnCount() {
			return nil, errorf(InvalidArgument, "index %s: column %d out of range", indexName,
				col)
		}
	}
	_, err = c.GetIndexObject(txn, te.DatabaseOid, schemaName, indexName)
	if err == nil {
		return nil, errorf(AlreadyExists, "index %s.%s already exists", schemaName, indexName)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ict := storage.DefaultIndexConstraint
	if unique {
		ict = storage.UniqueIndexConstraint
	}
	ie := &IndexEntry{
		Oid:        c.GetNextOid(IndexCatalogType),
		Name:       indexName,
		TableOid:   te.Oid,
		SchemaName: schemaName,
		Type:       it,
		Constraint: ict,
		UniqueKeys: unique,
		KeyAttrs:   append([]int(nil), cols...),
	}
	err = c.addIndex(txn, te.DatabaseOid, dt, ie)
	if err != nil {
		return nil, err
	}
	if unique {
		err = c.insertRow(txn, te.DatabaseOid, constraintCatalog, &ConstraintEntry{
			Oid:            c.GetNextOid(ConstraintCatalogType),
			Name:           indexName,
			Type:           sql.UniqueConstraint,
			TableOid:       te.Oid,
			Columns:        ie.KeyAttrs,
			IndexOid:       ie.Oid,
			FKSinkTableOid: storage.InvalidOid,
		})
		if err != nil {
			return nil, err
		}
	}

	te.EvictIndexes()
	te.EvictConstraints()
	c.invalidateOnCommit(txn, te.Oid)
	logDDL(txn, "create index").WithFields(log.Fields{
		"table": te.EntryName(),
		"index": indexName,
	}).Debug("catalog: ddl")
	return ie, nil
}

func sameColumns(cols1, cols2 []int) bool {
	if len(cols1) != len(cols2) {
		return false
	}
	for idx := range cols1 {
		if cols1[idx] != cols2[idx] {
			return false
		}
	}
	return true
}

// DropIndex drops an index which backs neither the primary key nor a foreign
// key reference.
func (c *Catalog) DropIndex(txn *concurrency.TransactionContext, dbName, schemaName,
	indexName string) error {

	de, err := c.GetDatabaseObject(txn, dbName)
	if err != nil {
		return err
	}
	ie, err := c.GetIndexObject(txn, de.Oid, schemaName, indexName)
	if err != nil {
		return err
	}
	if ie.Constraint == storage.PrimaryKeyIndexConstraint {
		return errorf(Constraint, "index %s backs a primary key", indexName)
	}
	te, err := c.GetTableObjectByOid(txn, de.Oid, ie.TableOid)
	if err != nil {
		return err
	}
	err = c.lockObject(txn, te.Oid)
	if err != nil {
		return err
	}
	dt, err := c.dataTable(te)
	if err != nil {
		return err
	}
	for _, fk := range dt.ForeignKeySources() {
		if sameColumns(fk.SinkColumns, ie.KeyAttrs) {
			return errorf(Constraint, "index %s is needed by foreign key %s", indexName,
				fk.Name)
		}
	}

	_, err = c.deleteRows(txn, de.Oid, indexCatalog, 0, oidKey(ie.Oid))
	if err != nil {
		return err
	}
	constraints, err := te.Constraints()
	if err != nil {
		return err
	}
	for _, con := range constraints {
		if con.IndexOid == ie.Oid {
			_, err = c.deleteRows(txn, de.Oid, constraintCatalog, 0, oidKey(con.Oid))
			if err != nil {
				return err
			}
		}
	}
	txn.RecordDrop(de.Oid, te.Oid, ie.Oid)

	te.EvictIndexes()
	te.EvictConstraints()
	c.invalidateOnCommit(txn, te.Oid)
	logDDL(txn, "drop index").WithFields(log.Fields{
		"table": te.EntryName(),
		"index": indexName,
	}).Debug("catalog: ddl")
	return nil
}

type ForeignKeyDef struct {
	Name          string
	SourceColumns []int
	SinkSchema    string
	SinkTable     string
	SinkColumns   []int
	UpdateAction  storage.FKAction
	DeleteAction  storage.FKAction
}

// AddForeignKey adds a foreign key from a table to a unique key of a table in
// the same database. Existing rows are not checked.
func (c *Catalog) AddForeignKey(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string, fkd ForeignKeyDef) (*ConstraintEntry, error) {

	src, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	sinkSchema := fkd.SinkSchema
	if sinkSchema == "" {
		sinkSchema = schemaName
	}
	sink, err := c.getTable(txn, src.DatabaseOid, sinkSchema, fkd.SinkTable)
	if err != nil {
		return nil, err
	}
	err = c.lockObject(txn, src.Oid)
	if err != nil {
		return nil, err
	}
	if sink.Oid != src.Oid {
		err = c.lockObject(txn, sink.Oid)
		if err != nil {
			return nil, err
		}
	}
	srcDT, err := c.dataTable(src)
	if err != nil {
		return nil, err
	}
	sinkDT, err := c.dataTable(sink)
	if err != nil {
		return nil, err
	}

	if len(fkd.SourceColumns) == 0 || len(fkd.SourceColumns) != len(fkd.SinkColumns) {
		return nil, errorf(InvalidArgument, "foreign key %s: mismatched columns", fkd.Name)
	}
	for idx, col := range fkd.SourceColumns {
		if col < 0 || col >= srcDT.Schema().ColumnCount() {
			return nil, errorf(InvalidArgument, "foreign key %s: column %d out of range",
				fkd.Name, col)
		}
		scol := fkd.SinkColumns[idx]
		if scol < 0 || scol >= sinkDT.Schema().ColumnCount() {
			return nil, errorf(InvalidArgument, "foreign key %s: column %d out of range",
				fkd.Name, scol)
		}
	}
	idx, ok := sinkDT.IndexOnColumns(fkd.SinkColumns)
	if !ok || !idx.Metadata().UniqueKeys {
		return nil, errorf(InvalidArgument,
			"foreign key %s: table %s has no unique index on the referenced columns", fkd.Name,
			sink.Name)
	}

	if fkd.UpdateAction == 0 {
		fkd.UpdateAction = storage.FKNoAction
	}
	if fkd.DeleteAction == 0 {
		fkd.DeleteAction = storage.FKNoAction
	}
	ce := &ConstraintEntry{
		Oid:            c.GetNextOid(ConstraintCatalogType),
		Name:           fkd.Name,
		Type:           sql.ForeignConstraint,
		TableOid:       src.Oid,
		Columns:        append([]int(nil), fkd.SourceColumns...),
		IndexOid:       storage.InvalidOid,
		FKSinkTableOid: sink.Oid,
		FKSinkColumns:  append([]int(nil), fkd.SinkColumns...),
		FKUpdateAction: fkd.UpdateAction,
		FKDeleteAction: fkd.DeleteAction,
	}
	if ce.Name == "" {
		ce.Name = fmt.Sprintf("%s_%s_fkey", tableName, fkd.SinkTable)
	}
	err = c.insertRow(txn, src.DatabaseOid, constraintCatalog, ce)
	if err != nil {
		return nil, err
	}

	fk := foreignKey(ce)
	srcDT.AddForeignKey(fk)
	sinkDT.RegisterForeignKeySource(fk)
	txn.OnAbort(func() {
		srcDT.DropForeignKey(fk.Oid)
		sinkDT.DropForeignKeySource(fk.Oid)
	})

	src.EvictConstraints()
	c.invalidateOnCommit(txn, src.Oid, sink.Oid)
	logDDL(txn, "add foreign key").WithFields(log.Fields{
		"table":      src.EntryName(),
		"references": sink.EntryName(),
		"constraint": ce.Name,
	}).Debug("catalog: ddl")
	return ce, nil
}

func foreignKey(ce *ConstraintEntry) *storage.ForeignKey {
	return &storage.ForeignKey{
		Oid:            ce.Oid,
		Name:           ce.Name,
		SourceTableOid: ce.TableOid,
		SourceColumns:  ce.Columns,
		SinkTableOid:   ce.FKSinkTableOid,
		SinkColumns:    ce.FKSinkColumns,
		UpdateAction:   ce.FKUpdateAction,
		DeleteAction:   ce.FKDeleteAction,
	}
}
