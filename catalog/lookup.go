package catalog

import (
	"errors"
	"sort"
	"strings"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

func (c *Catalog) GetDatabaseObject(txn *concurrency.TransactionContext,
	name string) (*DatabaseEntry, error) {

	tc := c.txnCache(txn)
	if de, ok := tc.databaseNames[name]; ok {
		return de, nil
	}

	_, de, err := getEntry[DatabaseEntry](c, txn, CatalogDatabaseOid, databaseCatalog, 1,
		[]sql.Value{sql.StringValue(name)})
	if err != nil {
		return nil, err
	} else if de == nil {
		return nil, errorf(NotFound, "database %s not found", name)
	}
	tc.addDatabase(de)
	return de, nil
}

func (c *Catalog) GetDatabaseObjectByOid(txn *concurrency.TransactionContext,
	oid storage.Oid) (*DatabaseEntry, error) {

	tc := c.txnCache(txn)
	if de, ok := tc.databases[oid]; ok {
		return de, nil
	}

	_, de, err := getEntry[DatabaseEntry](c, txn, CatalogDatabaseOid, databaseCatalog, 0,
		oidKey(oid))
	if err != nil {
		return nil, err
	} else if de == nil {
		return nil, errorf(NotFound, "database %d not found", oid)
	}
	tc.addDatabase(de)
	return de, nil
}

// GetDatabaseObjects returns every database ordered by oid.
func (c *Catalog) GetDatabaseObjects(txn *concurrency.TransactionContext) ([]*DatabaseEntry,
	error) {

	entries, err := listEntries[DatabaseEntry](c, txn, CatalogDatabaseOid, databaseCatalog, -1,
		nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Oid < entries[j].Oid
	})

	tc := c.txnCache(txn)
	for idx, de := range entries {
		if cached, ok := tc.databases[de.Oid]; ok {
			entries[idx] = cached
		} else {
			tc.addDatabase(de)
		}
	}
	return entries, nil
}

func (c *Catalog) GetSchemaObject(txn *concurrency.TransactionContext, dbOid storage.Oid,
	name string) (*SchemaEntry, error) {

	_, se, err := getEntry[SchemaEntry](c, txn, dbOid, schemaCatalog, 1,
		[]sql.Value{sql.StringValue(name)})
	if err != nil {
		return nil, err
	} else if se == nil {
		return nil, errorf(NotFound, "schema %s not found", name)
	}
	se.DatabaseOid = dbOid
	return se, nil
}

func (c *Catalog) GetSchemaObjects(txn *concurrency.TransactionContext,
	dbOid storage.Oid) ([]*SchemaEntry, error) {

	entries, err := listEntries[SchemaEntry](c, txn, dbOid, schemaCatalog, -1, nil)
	if err != nil {
		return nil, err
	}
	for _, se := range entries {
		se.DatabaseOid = dbOid
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Oid < entries[j].Oid
	})
	return entries, nil
}

func (c *Catalog) bindTable(txn *concurrency.TransactionContext, te *TableEntry) *TableEntry {
	tc := c.txnCache(txn)
	if cached, ok := tc.tables[tableOidKey{te.DatabaseOid, te.Oid}]; ok {
		return cached
	}
	te.c = c
	te.txn = txn
	tc.addTable(te)
	return te
}

func (c *Catalog) getTable(txn *concurrency.TransactionContext, dbOid storage.Oid,
	schemaName, tableName string) (*TableEntry, error) {

	tc := c.txnCache(txn)
	if te, ok := tc.tableNames[tableNameKey{dbOid, schemaName, tableName}]; ok {
		return te, nil
	}

	_, te, err := getEntry[TableEntry](c, txn, dbOid, tableCatalog, 1,
		[]sql.Value{sql.StringValue(schemaName), sql.StringValue(tableName)})
	if err != nil {
		return nil, err
	} else if te == nil {
		return nil, errorf(NotFound, "table %s.%s not found", schemaName, tableName)
	}
	return c.bindTable(txn, te), nil
}

func (c *Catalog) GetTableObject(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string) (*TableEntry, error) {

	de, err := c.GetDatabaseObject(txn, dbName)
	if err != nil {
		return nil, err
	}
	return c.getTable(txn, de.Oid, schemaName, tableName)
}

func (c *Catalog) GetTableObjectByOid(txn *concurrency.TransactionContext, dbOid,
	tableOid storage.Oid) (*TableEntry, error) {

	tc := c.txnCache(txn)
	if te, ok := tc.tables[tableOidKey{dbOid, tableOid}]; ok {
		return te, nil
	}

	_, te, err := getEntry[TableEntry](c, txn, dbOid, tableCatalog, 0, oidKey(tableOid))
	if err != nil {
		return nil, err
	} else if te == nil {
		return nil, errorf(NotFound, "table %d not found", tableOid)
	}
	return c.bindTable(txn, te), nil
}

// GetTableObjects returns every table of the database dbOid, catalog tables
// included, ordered by oid.
func (c *Catalog) GetTableObjects(txn *concurrency.TransactionContext,
	dbOid storage.Oid) ([]*TableEntry, error) {

	entries, err := listEntries[TableEntry](c, txn, dbOid, tableCatalog, -1, nil)
	if err != nil {
		return nil, err
	}
	for idx, te := range entries {
		entries[idx] = c.bindTable(txn, te)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Oid < entries[j].Oid
	})
	return entries, nil
}

// GetTableWithName returns the storage of the table named by dbName,
// schemaName and tableName.
func (c *Catalog) GetTableWithName(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string) (*storage.DataTable, error) {

	te, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	return c.dataTable(te)
}

func (c *Catalog) ExistTableByName(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string) (bool, error) {

	_, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Catalog) dataTable(te *TableEntry) (*storage.DataTable, error) {
	dt, err := c.st.GetTableWithOid(te.DatabaseOid, te.Oid)
	if err != nil {
		return nil, errorf(Internal, "%s: %s", te, err)
	}
	return dt, nil
}

func (c *Catalog) loadColumns(txn *concurrency.TransactionContext, dbOid,
	tableOid storage.Oid) ([]*ColumnEntry, error) {

	columns, err := listEntries[ColumnEntry](c, txn, dbOid, columnCatalog, 1, oidKey(tableOid))
	if err != nil {
		return nil, err
	}
	sort.Slice(columns, func(i, j int) bool {
		return columns[i].ID < columns[j].ID
	})
	return columns, nil
}

func (c *Catalog) loadIndexes(txn *concurrency.TransactionContext, dbOid,
	tableOid storage.Oid) ([]*IndexEntry, error) {

	indexes, err := listEntries[IndexEntry](c, txn, dbOid, indexCatalog, 2, oidKey(tableOid))
	if err != nil {
		return nil, err
	}
	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i].Oid < indexes[j].Oid
	})
	return indexes, nil
}

func (c *Catalog) loadConstraints(txn *concurrency.TransactionContext, dbOid,
	tableOid storage.Oid) ([]*ConstraintEntry, error) {

	constraints, err := listEntries[ConstraintEntry](c, txn, dbOid, constraintCatalog, 1,
		oidKey(tableOid))
	if err != nil {
		return nil, err
	}
	sort.Slice(constraints, func(i, j int) bool {
		return constraints[i].Oid < constraints[j].Oid
	})
	return constraints, nil
}

func (c *Catalog) loadLayouts(txn *concurrency.TransactionContext, dbOid,
	tableOid storage.Oid) ([]*LayoutEntry, error) {

	layouts, err := listEntries[LayoutEntry](c, txn, dbOid, layoutCatalog, 1, oidKey(tableOid))
	if err != nil {
		return nil, err
	}
	sort.Slice(layouts, func(i, j int) bool {
		return layouts[i].Oid < layouts[j].Oid
	})
	return layouts, nil
}

func (c *Catalog) loadTriggers(txn *concurrency.TransactionContext, dbOid,
	tableOid storage.Oid) ([]*TriggerEntry, error) {

	triggers, err := listEntries[TriggerEntry](c, txn, dbOid, triggerCatalog, 2,
		oidKey(tableOid))
	if err != nil {
		return nil, err
	}
	sort.Slice(triggers, func(i, j int) bool {
		return triggers[i].Oid < triggers[j].Oid
	})
	return triggers, nil
}

func (c *Catalog) GetIndexObject(txn *concurrency.TransactionContext, dbOid storage.Oid,
	schemaName, indexName string) (*IndexEntry, error) {

	_, ie, err := getEntry[IndexEntry](c, txn, dbOid, indexCatalog, 1,
		[]sql.Value{sql.StringValue(schemaName), sql.StringValue(indexName)})
	if err != nil {
		return nil, err
	} else if ie == nil {
		return nil, errorf(NotFound, "index %s.%s not found", schemaName, indexName)
	}
	return ie, nil
}

// GetSettings returns every setting ordered by name.
func (c *Catalog) GetSettings(txn *concurrency.TransactionContext) ([]*SettingEntry, error) {
	settings, err := listEntries[SettingEntry](c, txn, CatalogDatabaseOid, settingsCatalog, -1,
		nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(settings, func(i, j int) bool {
		return settings[i].Name < settings[j].Name
	})
	return settings, nil
}

func (c *Catalog) GetSetting(txn *concurrency.TransactionContext,
	name string) (*SettingEntry, error) {

	_, se, err := getEntry[SettingEntry](c, txn, CatalogDatabaseOid, settingsCatalog, 0,
		[]sql.Value{sql.StringValue(name)})
	if err != nil {
		return nil, err
	} else if se == nil {
		return nil, errorf(NotFound, "setting %s not found", name)
	}
	return se, nil
}

// SetSetting changes the value of a mutable setting.
func (c *Catalog) SetSetting(txn *concurrency.TransactionContext, name, value string) error {
	location, se, err := getEntry[SettingEntry](c, txn, CatalogDatabaseOid, settingsCatalog, 0,
		[]sql.Value{sql.StringValue(name)})
	if err != nil {
		return err
	} else if se == nil {
		return errorf(NotFound, "setting %s not found", name)
	} else if !se.IsMutable {
		return errorf(InvalidArgument, "setting %s may not be changed", name)
	}
	se.Value = value
	return c.updateRow(txn, CatalogDatabaseOid, settingsCatalog, location, se)
}

func (c *Catalog) GetLanguage(txn *concurrency.TransactionContext,
	name string) (*LanguageEntry, error) {

	_, le, err := getEntry[LanguageEntry](c, txn, CatalogDatabaseOid, languageCatalog, 1,
		[]sql.Value{sql.StringValue(name)})
	if err != nil {
		return nil, err
	} else if le == nil {
		return nil, errorf(NotFound, "language %s not found", name)
	}
	return le, nil
}

func formatArgTypes(argTypes []sql.DataType) string {
	strs := make([]string, len(argTypes))
	for idx, dt := range argTypes {
		strs[idx] = dt.String()
	}
	return strings.Join(strs, " ")
}

// GetProc returns the function name taking arguments of argTypes.
func (c *Catalog) GetProc(txn *concurrency.TransactionContext, name string,
	argTypes []sql.DataType) (*ProcEntry, error) {

	_, pe, err := getEntry[ProcEntry](c, txn, CatalogDatabaseOid, procCatalog, 1,
		[]sql.Value{sql.StringValue(name), sql.StringValue(formatArgTypes(argTypes))})
	if err != nil {
		return nil, err
	} else if pe == nil {
		return nil, errorf(NotFound, "function %s(%s) not found", name,
			formatArgTypes(argTypes))
	}
	return pe, nil
}

func (c *Catalog) GetSequenceObject(txn *concurrency.TransactionContext, dbOid,
	namespaceOid storage.Oid, name string) (*SequenceEntry, error) {

	_, se, err := getEntry[SequenceEntry](c, txn, dbOid, sequenceCatalog, 1,
		[]sql.Value{oidValue(namespaceOid), sql.StringValue(name)})
	if err != nil {
		return nil, err
	} else if se == nil {
		return nil, errorf(NotFound, "sequence %s not found", name)
	}
	return se, nil
}
