package catalog

import (
	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/storage"
)

func (c *Catalog) layoutTable(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string) (*TableEntry, *storage.DataTable, error) {

	te, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if err != nil {
		return nil, nil, err
	}
	if te.SchemaName == CatalogSchemaName {
		return nil, nil, errorf(InvalidArgument, "layouts of catalog table %s may not change",
			tableName)
	}
	err = c.lockObject(txn, te.Oid)
	if err != nil {
		return nil, nil, err
	}
	dt, err := c.dataTable(te)
	if err != nil {
		return nil, nil, err
	}
	return te, dt, nil
}

// CreateLayout adds a hybrid layout with columnMap to a table. Tile groups only
// use it once it is made the default layout.
func (c *Catalog) CreateLayout(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string, columnMap []storage.TileColumn) (*LayoutEntry, error) {

	te, dt, err := c.layoutTable(txn, dbName, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if len(columnMap) != dt.Schema().ColumnCount() {
		return nil, errorf(InvalidArgument, "layout of table %s must map %d columns", tableName,
			dt.Schema().ColumnCount())
	}

	l, err := storage.NewHybridLayout(dt.NextLayoutOid(), te.Oid, columnMap)
	if err != nil {
		return nil, errorf(InvalidArgument, "%s", err)
	}
	err = dt.AddLayout(l)
	if err != nil {
		return nil, errorf(InvalidArgument, "%s", err)
	}
	txn.OnAbort(func() {
		dt.DropLayout(l.Oid())
	})

	le := &LayoutEntry{
		TableOid:   te.Oid,
		Oid:        l.Oid(),
		NumColumns: int32(l.ColumnCount()),
		ColumnMap:  l.SerializeColumnMap(),
	}
	err = c.insertRow(txn, te.DatabaseOid, layoutCatalog, le)
	if err != nil {
		return nil, err
	}

	te.EvictLayouts()
	c.invalidateOnCommit(txn, te.Oid)
	logDDL(txn, "create layout").WithFields(log.Fields{
		"table":  te.EntryName(),
		"layout": l,
	}).Debug("catalog: ddl")
	return le, nil
}

func (c *Catalog) setDefaultLayout(txn *concurrency.TransactionContext, te *TableEntry,
	dt *storage.DataTable, layoutOid storage.Oid) error {

	location, row, err := getEntry[TableEntry](c, txn, te.DatabaseOid, tableCatalog, 0,
		oidKey(te.Oid))
	if err != nil {
		return err
	} else if row == nil {
		return errorf(NotFound, "table %s not found", te.EntryName())
	}
	row.DefaultLayoutOid = layoutOid
	row.VersionID += 1
	err = c.updateRow(txn, te.DatabaseOid, tableCatalog, location, row)
	if err != nil {
		return err
	}

	prev := dt.DefaultLayout().Oid()
	err = dt.SetDefaultLayout(layoutOid)
	if err != nil {
		return errorf(Internal, "%s", err)
	}
	txn.OnAbort(func() {
		dt.SetDefaultLayout(prev)
	})
	te.DefaultLayoutOid = layoutOid
	te.VersionID = row.VersionID
	return nil
}

// SetDefaultLayout makes layoutOid the layout of the tile groups added to a
// table from now on.
func (c *Catalog) SetDefaultLayout(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string, layoutOid storage.Oid) error {

	te, dt, err := c.layoutTable(txn, dbName, schemaName, tableName)
	if err != nil {
		return err
	}
	layouts, err := te.Layouts()
	if err != nil {
		return err
	}
	found := false
	for _, le := range layouts {
		if le.Oid == layoutOid {
			found = true
			break
		}
	}
	if !found {
		return errorf(NotFound, "table %s: layout %d not found", tableName, layoutOid)
	}

	err = c.setDefaultLayout(txn, te, dt, layoutOid)
	if err != nil {
		return err
	}
	c.invalidateOnCommit(txn, te.Oid)
	logDDL(txn, "set default layout").WithFields(log.Fields{
		"table":  te.EntryName(),
		"layout": layoutOid,
	}).Debug("catalog: ddl")
	return nil
}

// DropLayout drops a hybrid layout no tile group uses. Dropping the default
// layout makes the row layout the default.
func (c *Catalog) DropLayout(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string, layoutOid storage.Oid) error {

	te, dt, err := c.layoutTable(txn, dbName, schemaName, tableName)
	if err != nil {
		return err
	}
	if layoutOid < storage.FirstHybridLayoutOid {
		return errorf(InvalidArgument, "table %s: layout %d may not be dropped", tableName,
			layoutOid)
	}
	if _, ok := dt.GetLayout(layoutOid); !ok {
		return errorf(NotFound, "table %s: layout %d not found", tableName, layoutOid)
	}
	for _, tg := range dt.TileGroups() {
		if tg.Layout().Oid() == layoutOid {
			return errorf(Constraint, "table %s: layout %d is in use", tableName, layoutOid)
		}
	}

	if dt.DefaultLayout().Oid() == layoutOid {
		err = c.setDefaultLayout(txn, te, dt, storage.RowStoreLayoutOid)
		if err != nil {
			return err
		}
	}
	_, err = c.deleteRows(txn, te.DatabaseOid, layoutCatalog, 0, oidKey(te.Oid, layoutOid))
	if err != nil {
		return err
	}
	txn.OnCommit(func() {
		err := dt.DropLayout(layoutOid)
		if err != nil {
			log.WithField("table", te.EntryName()).WithError(err).Warn("catalog: drop layout")
		}
	})

	te.EvictLayouts()
	c.invalidateOnCommit(txn, te.Oid)
	logDDL(txn, "drop layout").WithFields(log.Fields{
		"table":  te.EntryName(),
		"layout": layoutOid,
	}).Debug("catalog: ddl")
	return nil
}
